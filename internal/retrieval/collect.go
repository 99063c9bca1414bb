package retrieval

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/store"
)

func entityID(e model.KnowledgeEntity) string { return e.ID }
func chunkID(c model.TextChunk) string        { return c.ID }

// collectCandidates runs the four-way vector/FTS fan-out for entities
// and chunks concurrently, normalizes each FTS result set independently
// (min-max, since FTS scores have no fixed scale the way cosine
// similarity does), merges every result into the running candidate
// maps by id, and fuses.
func collectCandidates(ctx context.Context, pc *PipelineContext) error {
	embedding, err := pc.ensureEmbedding()
	if err != nil {
		return err
	}
	tuning := pc.Tuning
	weights := DefaultFusionWeights()

	var vectorEntities []store.Scored[model.KnowledgeEntity]
	var vectorChunks []store.Scored[model.TextChunk]
	var ftsEntities []store.Scored[model.KnowledgeEntity]
	var ftsChunks []store.Scored[model.TextChunk]

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := pc.Store.SearchEntitiesByVector(gctx, pc.UserID, embedding, tuning.EntityVectorTake)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "vector search entities", err)
		}
		vectorEntities = res
		return nil
	})
	g.Go(func() error {
		res, err := pc.Store.SearchChunksByVector(gctx, pc.UserID, embedding, tuning.ChunkVectorTake)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "vector search chunks", err)
		}
		vectorChunks = res
		return nil
	})
	g.Go(func() error {
		res, err := pc.Store.SearchEntitiesByText(gctx, pc.UserID, pc.InputText, tuning.EntityFTSTake)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "fts search entities", err)
		}
		ftsEntities = res
		return nil
	})
	g.Go(func() error {
		res, err := pc.Store.SearchChunksByText(gctx, pc.UserID, pc.InputText, tuning.ChunkFTSTake)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "fts search chunks", err)
		}
		ftsChunks = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	scoredVectorEntities := make([]Scored[model.KnowledgeEntity], len(vectorEntities))
	for i, row := range vectorEntities {
		s := newScored(row.Value)
		s.withVectorScore(row.Score)
		scoredVectorEntities[i] = s
	}
	scoredVectorChunks := make([]Scored[model.TextChunk], len(vectorChunks))
	for i, row := range vectorChunks {
		s := newScored(row.Value)
		s.withVectorScore(row.Score)
		scoredVectorChunks[i] = s
	}

	scoredFTSEntities := make([]Scored[model.KnowledgeEntity], len(ftsEntities))
	for i, row := range ftsEntities {
		s := newScored(row.Value)
		s.Score.FTS = f32ptr(row.Score)
		scoredFTSEntities[i] = s
	}
	scoredFTSChunks := make([]Scored[model.TextChunk], len(ftsChunks))
	for i, row := range ftsChunks {
		s := newScored(row.Value)
		s.Score.FTS = f32ptr(row.Score)
		scoredFTSChunks[i] = s
	}

	if pc.diagnosticsEnabled() {
		pc.Diagnostics.CollectCandidates = &CollectCandidatesStats{
			VectorEntityCandidates: len(scoredVectorEntities),
			VectorChunkCandidates:  len(scoredVectorChunks),
			FTSEntityCandidates:    len(scoredFTSEntities),
			FTSChunkCandidates:     len(scoredFTSChunks),
		}
	}

	normalizeFTSScores(scoredFTSEntities)
	normalizeFTSScores(scoredFTSChunks)

	mergeScoredByID(pc.EntityCandidates, scoredVectorEntities, entityID)
	mergeScoredByID(pc.EntityCandidates, scoredFTSEntities, entityID)
	mergeScoredByID(pc.ChunkCandidates, scoredVectorChunks, chunkID)
	mergeScoredByID(pc.ChunkCandidates, scoredFTSChunks, chunkID)

	applyFusion(pc.EntityCandidates, weights)
	applyFusion(pc.ChunkCandidates, weights)

	return nil
}

func normalizeFTSScores[T any](results []Scored[T]) {
	raw := make([]float32, len(results))
	for i, r := range results {
		if r.Score.FTS != nil {
			raw[i] = *r.Score.FTS
		}
	}
	normalized := minMaxNormalize(raw)
	for i := range results {
		results[i].Score.FTS = f32ptr(normalized[i])
	}
}

func applyFusion[T any](candidates map[string]Scored[T], weights FusionWeights) {
	for id, cand := range candidates {
		cand.updateFused(fuseScores(cand.Score, weights))
		candidates[id] = cand
	}
}
