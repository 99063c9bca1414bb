package embedding

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

// RemoteProvider calls an OpenAI-compatible /v1/embeddings endpoint,
// batching all input texts into a single request.
type RemoteProvider struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

// NewRemote constructs a Provider backed by a remote embeddings API.
func NewRemote(baseURL, apiKey, model string, dimension int, timeout time.Duration) *RemoteProvider {
	return &RemoteProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *RemoteProvider) Dimension() int { return p.dimension }

func (p *RemoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type remoteRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *RemoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(remoteRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "marshal remote embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/embeddings", p.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "create remote embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "call remote embedding API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.Newf(apperr.KindEmbedding, "remote embedding API returned status %d", resp.StatusCode)
	}

	var payload remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "decode remote embedding response", err)
	}

	out := make([][]float32, len(texts))
	for _, item := range payload.Data {
		if item.Index < 0 || item.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		if p.dimension > 0 && len(vec) != p.dimension {
			return nil, apperr.Newf(apperr.KindEmbedding, "embedding dimension mismatch: expected %d got %d", p.dimension, len(vec))
		}
		out[item.Index] = vec
	}
	return out, nil
}

var _ Provider = (*RemoteProvider)(nil)
