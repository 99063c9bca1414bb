package retrieval

import (
	"context"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/store"
)

// rrfK is Reciprocal Rank Fusion's standard smoothing constant: it
// flattens the weight of very top ranks so one channel's #1 doesn't
// dominate a candidate the other channel also ranks highly.
const rrfK = 60

// collectRRFChunks is the Revised strategy's candidate source: rank
// chunks independently by vector similarity and by FTS score, then
// fuse purely by rank position (1/(k+rank) per ranking, summed) rather
// than by the raw score values CollectCandidatesStage's weighted
// average uses. This keeps the two channels commensurable even when
// their raw score distributions don't overlap.
func collectRRFChunks(ctx context.Context, pc *PipelineContext) error {
	embedding, err := pc.ensureEmbedding()
	if err != nil {
		return err
	}

	vectorRows, err := pc.Store.SearchChunksByVector(ctx, pc.UserID, embedding, pc.Tuning.ChunkVectorTake)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "vector search chunks (revised)", err)
	}
	ftsRows, err := pc.Store.SearchChunksByText(ctx, pc.UserID, pc.InputText, pc.Tuning.ChunkFTSTake)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "fts search chunks (revised)", err)
	}

	rrfScore := make(map[string]float32)
	items := make(map[string]model.TextChunk)

	addRanking := func(rows []store.Scored[model.TextChunk]) {
		for rank, row := range rows {
			rrfScore[row.Value.ID] += 1.0 / float32(rrfK+rank+1)
			items[row.Value.ID] = row.Value
		}
	}
	addRanking(vectorRows)
	addRanking(ftsRows)

	chunks := make([]Scored[model.TextChunk], 0, len(items))
	for id, item := range items {
		s := newScored(item)
		s.updateFused(rrfScore[id])
		chunks = append(chunks, s)
	}
	sortByFusedDesc(chunks)

	maxRRF := float32(0)
	if len(chunks) > 0 {
		maxRRF = chunks[0].Fused
	}
	if maxRRF > 0 {
		for i := range chunks {
			chunks[i].updateFused(clampUnit(chunks[i].Fused / maxRRF))
		}
	}

	if pc.diagnosticsEnabled() {
		pc.Diagnostics.CollectCandidates = &CollectCandidatesStats{
			VectorChunkCandidates: len(vectorRows),
			FTSChunkCandidates:    len(ftsRows),
		}
	}

	pc.RevisedChunkValues = chunks
	return nil
}

// ChunkRRFStage is the Revised strategy's candidate-collection step.
type ChunkRRFStage struct{}

func (ChunkRRFStage) Execute(ctx context.Context, pc *PipelineContext) error {
	return collectRRFChunks(ctx, pc)
}
