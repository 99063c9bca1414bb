package rerank

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

// HTTPReranker calls an OpenAI-compatible rerank endpoint
// (POST {baseURL}/v1/rerank with {model, query, documents}), the same
// request/response shape cross-encoder servers such as a local
// text-embeddings-inference or Cohere-compatible gateway expose.
// Generalizes the embedding provider's HTTP client shape
// (internal/embeddings.ollamaEmbedder) to a different endpoint.
type HTTPReranker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPReranker builds a reranker against baseURL. apiKey may be
// empty for an unauthenticated local server.
func NewHTTPReranker(baseURL, apiKey, model string, timeout time.Duration) *HTTPReranker {
	return &HTTPReranker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponseItem struct {
	Index          int     `json:"index"`
	RelevanceScore float32 `json:"relevance_score"`
}

type rerankResponse struct {
	Results []rerankResponseItem `json:"results"`
}

// Rerank implements Reranker.
func (h *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: h.model, Query: query, Documents: documents})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "marshal rerank request", err)
	}

	url := fmt.Sprintf("%s/v1/rerank", h.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "create rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "call rerank endpoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.KindEmbedding, "rerank endpoint returned status %d", resp.StatusCode)
	}

	var payload rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.Wrap(apperr.KindEmbedding, "decode rerank response", err)
	}

	results := make([]Result, len(payload.Results))
	for i, item := range payload.Results {
		results[i] = Result{Index: item.Index, Score: item.RelevanceScore}
	}
	return results, nil
}

var _ Reranker = (*HTTPReranker)(nil)
