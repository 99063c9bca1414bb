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

// LocalProvider talks to a local Ollama-compatible /api/embeddings
// endpoint, one request per text, generalized from the teacher's
// ollamaEmbedder.
type LocalProvider struct {
	host      string
	model     string
	dimension int
	client    *http.Client
}

// NewLocal constructs a Provider backed by a local model server.
func NewLocal(host, model string, dimension int, timeout time.Duration) *LocalProvider {
	return &LocalProvider{
		host:      strings.TrimRight(host, "/"),
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: timeout},
	}
}

func (p *LocalProvider) Dimension() int { return p.dimension }

func (p *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	url := fmt.Sprintf("%s/api/embeddings", p.host)

	for _, text := range texts {
		body, err := json.Marshal(localRequest{Model: p.model, Prompt: text})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindEmbedding, "marshal embedding request", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindEmbedding, "create embedding request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindEmbedding, "call local embedding API", err)
		}

		var payload localResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, apperr.Wrap(apperr.KindEmbedding, "decode embedding response", decodeErr)
		}

		vec := make([]float32, len(payload.Embedding))
		for i, v := range payload.Embedding {
			vec[i] = float32(v)
		}
		if p.dimension > 0 && len(vec) != p.dimension {
			return nil, apperr.Newf(apperr.KindEmbedding, "embedding dimension mismatch: expected %d got %d", p.dimension, len(vec))
		}
		out = append(out, vec)
	}

	return out, nil
}

var _ Provider = (*LocalProvider)(nil)
