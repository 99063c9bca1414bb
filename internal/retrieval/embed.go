package retrieval

import (
	"context"

	"github.com/perstarkse/minnego/internal/apperr"
)

// embed generates (or reuses) the query embedding, the pipeline's only
// unconditional dependency on the embedding provider.
func embed(ctx context.Context, pc *PipelineContext) error {
	if pc.QueryEmbedding != nil {
		return nil
	}
	if pc.EmbeddingProv == nil {
		return apperr.New(apperr.KindInternal, "no embedding provider configured for retrieval")
	}
	vec, err := pc.EmbeddingProv.Embed(ctx, pc.InputText)
	if err != nil {
		return apperr.Wrap(apperr.KindEmbedding, "generate query embedding", err)
	}
	pc.QueryEmbedding = vec
	return nil
}
