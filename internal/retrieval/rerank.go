package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/perstarkse/minnego/internal/model"
	"github.com/perstarkse/minnego/internal/rerank"
)

// rerankEntities optionally reorders the filtered entity set with a
// cross-encoder, blending the normalized rerank score with the
// existing fused score (or replacing it outright, if RerankScoresOnly
// is set). Any reranker failure is non-fatal: retrieval falls back to
// the pre-rerank ordering rather than failing the request.
func rerankEntities(ctx context.Context, pc *PipelineContext) error {
	if pc.RerankLease == nil {
		return nil
	}
	if len(pc.FilteredEntities) <= 1 {
		return nil
	}

	documents := buildRerankDocuments(pc, pc.Tuning.MaxChunksPerEntity)
	if len(documents) <= 1 {
		return nil
	}

	results, err := pc.RerankLease.Rerank(ctx, pc.InputText, documents)
	if err != nil || len(results) == 0 {
		return nil
	}

	applyRerankResults(pc, results)
	return nil
}

func buildRerankDocuments(pc *PipelineContext, maxChunksPerEntity int) []string {
	if len(pc.FilteredEntities) == 0 {
		return nil
	}
	if maxChunksPerEntity < 1 {
		maxChunksPerEntity = 1
	}

	chunksBySource := make(map[string][]Scored[model.TextChunk])
	for _, c := range pc.ChunkValues {
		chunksBySource[c.Item.SourceID] = append(chunksBySource[c.Item.SourceID], c)
	}

	docs := make([]string, len(pc.FilteredEntities))
	for i, entity := range pc.FilteredEntities {
		var b strings.Builder
		fmt.Fprintf(&b, "Name: %s\nType: %s\nDescription: %s\n", entity.Item.Name, entity.Item.EntityType, entity.Item.Description)

		chunks := append([]Scored[model.TextChunk]{}, chunksBySource[entity.Item.SourceID]...)
		sortByFusedDesc(chunks)

		headerAdded := false
		taken := 0
		for _, c := range chunks {
			if taken >= maxChunksPerEntity {
				break
			}
			snippet := strings.TrimSpace(c.Item.Chunk)
			if snippet == "" {
				continue
			}
			if !headerAdded {
				b.WriteString("Chunks:\n")
				headerAdded = true
			}
			b.WriteString("- ")
			b.WriteString(snippet)
			b.WriteString("\n")
			taken++
		}
		docs[i] = b.String()
	}
	return docs
}

func buildChunkRerankDocuments(chunks []Scored[model.TextChunk], maxChunks int) []string {
	if maxChunks > len(chunks) {
		maxChunks = len(chunks)
	}
	docs := make([]string, maxChunks)
	for i := 0; i < maxChunks; i++ {
		c := chunks[i]
		docs[i] = fmt.Sprintf("Source: %s\nChunk:\n%s", c.Item.SourceID, strings.TrimSpace(c.Item.Chunk))
	}
	return docs
}

// blendRerankScore mixes a candidate's existing fused score with a
// normalized rerank score per the rerankScoresOnly/rerankBlendWeight
// tuning, clamped back to [0,1].
func blendRerankScore(original, normalized float32, scoresOnly bool, blendWeight float32) float32 {
	if scoresOnly {
		return clampUnit(normalized)
	}
	blend := clampUnit(blendWeight)
	return clampUnit(original*(1-blend) + normalized*blend)
}

func applyRerankResults(pc *PipelineContext, results []rerank.Result) {
	if len(results) == 0 || len(pc.FilteredEntities) == 0 {
		return
	}

	remaining := make([]*Scored[model.KnowledgeEntity], len(pc.FilteredEntities))
	for i := range pc.FilteredEntities {
		v := pc.FilteredEntities[i]
		remaining[i] = &v
	}

	rawScores := make([]float32, len(results))
	for i, r := range results {
		rawScores[i] = r.Score
	}
	normalizedScores := minMaxNormalize(rawScores)

	scoresOnly := pc.Tuning.RerankScoresOnly
	blendWeight := pc.Tuning.RerankBlendWeight

	reranked := make([]Scored[model.KnowledgeEntity], 0, len(remaining))
	for i, result := range results {
		if result.Index < 0 || result.Index >= len(remaining) {
			continue
		}
		slot := remaining[result.Index]
		if slot == nil {
			continue
		}
		candidate := *slot
		remaining[result.Index] = nil
		candidate.updateFused(blendRerankScore(candidate.Fused, normalizedScores[i], scoresOnly, blendWeight))
		reranked = append(reranked, candidate)
		if len(reranked) == len(pc.FilteredEntities) {
			break
		}
	}
	for _, slot := range remaining {
		if slot != nil {
			reranked = append(reranked, *slot)
		}
	}

	pc.FilteredEntities = reranked
	if keepTop := pc.Tuning.RerankKeepTop; keepTop > 0 && len(pc.FilteredEntities) > keepTop {
		pc.FilteredEntities = pc.FilteredEntities[:keepTop]
	}
}

// applyChunkRerankResults is applyRerankResults's chunk-only
// counterpart, kept standalone (rather than sharing a generic helper)
// since the original defines apply_rerank_results and
// apply_chunk_rerank_results as separate functions over distinct item
// types.
func applyChunkRerankResults(chunks []Scored[model.TextChunk], scoresOnly bool, blendWeight float32, keepTop int, results []rerank.Result) []Scored[model.TextChunk] {
	if len(results) == 0 || len(chunks) == 0 {
		return chunks
	}

	remaining := make([]*Scored[model.TextChunk], len(chunks))
	for i := range chunks {
		v := chunks[i]
		remaining[i] = &v
	}

	rawScores := make([]float32, len(results))
	for i, r := range results {
		rawScores[i] = r.Score
	}
	normalizedScores := minMaxNormalize(rawScores)

	reranked := make([]Scored[model.TextChunk], 0, len(remaining))
	for i, result := range results {
		if result.Index < 0 || result.Index >= len(remaining) {
			continue
		}
		slot := remaining[result.Index]
		if slot == nil {
			continue
		}
		candidate := *slot
		remaining[result.Index] = nil
		candidate.updateFused(blendRerankScore(candidate.Fused, normalizedScores[i], scoresOnly, blendWeight))
		reranked = append(reranked, candidate)
		if len(reranked) == len(chunks) {
			break
		}
	}
	for _, slot := range remaining {
		if slot != nil {
			reranked = append(reranked, *slot)
		}
	}

	if keepTop > 0 && len(reranked) > keepTop {
		reranked = reranked[:keepTop]
	}
	return reranked
}
