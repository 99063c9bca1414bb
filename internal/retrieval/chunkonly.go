package retrieval

import (
	"context"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
)

// collectVectorChunks is the chunk-only pipeline's sole candidate
// source: a plain vector search over chunks, fused immediately since
// there is no FTS/graph channel to wait for.
func collectVectorChunks(ctx context.Context, pc *PipelineContext) error {
	embedding, err := pc.ensureEmbedding()
	if err != nil {
		return err
	}
	weights := DefaultFusionWeights()

	rows, err := pc.Store.SearchChunksByVector(ctx, pc.UserID, embedding, pc.Tuning.ChunkVectorTake)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "vector search chunks (chunk-only)", err)
	}

	chunks := make([]Scored[model.TextChunk], len(rows))
	for i, row := range rows {
		s := newScored(row.Value)
		s.withVectorScore(row.Score)
		s.updateFused(fuseScores(s.Score, weights))
		chunks[i] = s
	}

	if pc.diagnosticsEnabled() {
		pc.Diagnostics.CollectCandidates = &CollectCandidatesStats{
			VectorChunkCandidates: len(chunks),
		}
	}

	sortByFusedDesc(chunks)
	pc.RevisedChunkValues = chunks
	return nil
}

// rerankChunks optionally reorders the chunk-only candidate set with a
// cross-encoder, same blend semantics as rerankEntities.
func rerankChunks(ctx context.Context, pc *PipelineContext) error {
	if len(pc.RevisedChunkValues) <= 1 {
		return nil
	}
	if pc.RerankLease == nil {
		return nil
	}

	keepTop := pc.Tuning.RerankKeepTop
	if keepTop < 1 {
		keepTop = 1
	}
	documents := buildChunkRerankDocuments(pc.RevisedChunkValues, keepTop)
	if len(documents) <= 1 {
		return nil
	}

	results, err := pc.RerankLease.Rerank(ctx, pc.InputText, documents)
	if err != nil || len(results) == 0 {
		return nil
	}

	pc.RevisedChunkValues = applyChunkRerankResults(pc.RevisedChunkValues, pc.Tuning.RerankScoresOnly, pc.Tuning.RerankBlendWeight, pc.Tuning.RerankKeepTop, results)
	return nil
}

// assembleChunks produces the chunk-only pipeline's final, lexically
// boosted and budget-capped result set.
func assembleChunks(pc *PipelineContext) error {
	chunkValues := pc.RevisedChunkValues
	pc.RevisedChunkValues = nil

	questionTerms := extractKeywords(pc.InputText)
	rankChunksByCombinedScore(chunkValues, questionTerms, pc.Tuning.LexicalMatchWeight)

	limit := pc.Tuning.ChunkResultCap
	if limit < 1 {
		limit = 1
	}
	vectorTake := pc.Tuning.ChunkVectorTake
	if vectorTake < 1 {
		vectorTake = 1
	}
	if limit > vectorTake {
		limit = vectorTake
	}
	if len(chunkValues) > limit {
		chunkValues = chunkValues[:limit]
	}

	results := make([]RetrievedChunk, len(chunkValues))
	for i, c := range chunkValues {
		results[i] = RetrievedChunk{Chunk: c.Item, Score: c.Fused}
	}
	pc.ChunkResults = results

	if pc.diagnosticsEnabled() {
		pc.Diagnostics.Assemble = &AssembleStats{
			TokenBudgetStart:     pc.Tuning.TokenBudgetEstimate,
			TokenBudgetRemaining: pc.Tuning.TokenBudgetEstimate,
			ChunksSelected:       len(results),
		}
	}

	return nil
}

func rankChunksByCombinedScore(candidates []Scored[model.TextChunk], questionTerms []string, lexicalWeight float32) {
	if lexicalWeight > 0 && len(questionTerms) > 0 {
		for i := range candidates {
			lexical := lexicalOverlapScore(questionTerms, candidates[i].Item.Chunk)
			candidates[i].updateFused(clampUnit(candidates[i].Fused + lexicalWeight*lexical))
		}
	}
	sortByFusedDesc(candidates)
}
