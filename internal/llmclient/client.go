// Package llmclient implements an OpenAI-compatible chat-completions
// client, generalizing internal/ollama.Client's single-endpoint shape
// to a /v1/chat/completions transport that also accepts image parts
// for vision calls (entity extraction from rasterized PDF pages).
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/perstarkse/minnego/internal/apperr"
)

// Role values accepted in a Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part is one piece of a message's content: either text or an image
// referenced by URL (a data: URI for rasterized page images).
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// ImagePart builds an image content part from a data URI
// (e.g. "data:image/png;base64,...").
func ImagePart(dataURI string) Part {
	return Part{Type: "image_url", ImageURL: &imageURL{URL: dataURI}}
}

// Message is one turn in a chat conversation. Content may be a plain
// string or a []Part; callers build messages with NewTextMessage /
// NewPartsMessage rather than populating the field directly, since the
// wire shape for single-part text content differs from multi-part
// content on most OpenAI-compatible servers.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// NewTextMessage builds a plain text-only message.
func NewTextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// NewVisionMessage builds a message carrying both an instruction and
// one or more images, for extraction calls run against rasterized PDF
// pages.
func NewVisionMessage(role, instruction string, images ...string) Message {
	parts := make([]Part, 0, len(images)+1)
	parts = append(parts, TextPart(instruction))
	for _, img := range images {
		parts = append(parts, ImagePart(img))
	}
	return Message{Role: role, Content: parts}
}

// Client is a minimal chat-completions interface; Complete runs a
// single non-streaming call and returns the assistant's text.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewClient constructs a Client backed by an OpenAI-compatible
// /v1/chat/completions endpoint. apiKey may be empty for backends that
// don't require auth (e.g. a local Ollama OpenAI-compat shim).
func NewClient(baseURL, apiKey, model string, timeout time.Duration) Client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *client) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.baseURL == "" {
		return "", apperr.New(apperr.KindValidation, "llm base URL must be configured")
	}
	if c.model == "" {
		return "", apperr.New(apperr.KindValidation, "llm model must be configured")
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Stream: false})
	if err != nil {
		return "", apperr.Wrap(apperr.KindEmbedding, "marshal chat completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.KindEmbedding, "create chat completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindEmbedding, "call chat completion API", err)
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.Wrap(apperr.KindEmbedding, "decode chat completion response", err)
	}

	if resp.StatusCode >= 400 {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", apperr.Newf(apperr.KindEmbedding, "chat completion API error: %s", parsed.Error.Message)
		}
		return "", apperr.Newf(apperr.KindEmbedding, "chat completion API returned status %d", resp.StatusCode)
	}

	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.KindEmbedding, "chat completion API returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

var _ Client = (*client)(nil)

// refusalPhrases are substrings checked (case-insensitively, by
// callers via ContainsRefusal) against a vision completion's text to
// detect a model declining to transcribe a page, triggering the
// ingestion pipeline's single retry with a sterner instruction.
var refusalPhrases = []string{
	"i can't help",
	"i cannot help",
	"i'm unable to",
	"i am unable to",
	"cannot assist",
	"can't assist",
}

// ContainsRefusal reports whether text looks like a vision model
// declining to process an image, rather than a transcription.
func ContainsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// DataURI builds a data: URI for an image, used to embed rasterized
// PDF pages directly in a vision request without a hosting endpoint.
func DataURI(mimeType string, base64Data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}
