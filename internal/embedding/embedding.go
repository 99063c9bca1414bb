// Package embedding provides the Embedding Provider abstraction (spec
// 4.B): a local (Ollama-compatible) backend, a remote OpenAI-compatible
// backend, and a deterministic hashed backend for evaluation runs, all
// behind one Provider interface, generalized from the teacher's
// embeddings.Embedder.
package embedding

import "context"

// Provider generates vector representations for text. EmbedBatch is the
// primary entry point; Embed is a single-text convenience wrapper.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
