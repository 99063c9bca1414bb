package retrieval

import (
	"context"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
)

// attachChunks reconciles the entity and chunk candidate sets against
// each other: any chunk source lacking an entity candidate gets one
// backfilled, every surviving entity's score is boosted by its best
// chunk, the entity set is filtered (falling back to a minimum count
// if the threshold filter is too aggressive), and finally the chunk set
// is re-enriched from the filtered entities' sources.
func attachChunks(ctx context.Context, pc *PipelineContext) error {
	tuning := pc.Tuning
	weights := DefaultFusionWeights()

	chunkBySource := groupChunksBySource(pc.ChunkCandidates)
	chunkCandidatesBefore := len(pc.ChunkCandidates)
	chunkSourcesConsidered := len(chunkBySource)

	if err := backfillEntitiesFromChunks(ctx, pc, chunkBySource, weights); err != nil {
		return err
	}

	boostEntitiesWithChunks(pc.EntityCandidates, chunkBySource, weights)

	entityResults := make([]Scored[model.KnowledgeEntity], 0, len(pc.EntityCandidates))
	for _, e := range pc.EntityCandidates {
		entityResults = append(entityResults, e)
	}
	sortByFusedDesc(entityResults)

	filtered := make([]Scored[model.KnowledgeEntity], 0, len(entityResults))
	for _, e := range entityResults {
		if e.Fused >= tuning.ScoreThreshold {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) < tuning.FallbackMinResults {
		take := tuning.FallbackMinResults
		if take > len(entityResults) {
			take = len(entityResults)
		}
		filtered = entityResults[:take]
	}
	pc.FilteredEntities = filtered

	chunkResults := make([]Scored[model.TextChunk], 0, len(pc.ChunkCandidates))
	for _, c := range pc.ChunkCandidates {
		chunkResults = append(chunkResults, c)
	}
	sortByFusedDesc(chunkResults)

	chunkByID := make(map[string]Scored[model.TextChunk], len(chunkResults))
	for _, c := range chunkResults {
		chunkByID[c.Item.ID] = c
	}

	if err := enrichChunksFromEntities(ctx, pc, chunkByID, pc.FilteredEntities, weights); err != nil {
		return err
	}

	chunkValues := make([]Scored[model.TextChunk], 0, len(chunkByID))
	for _, c := range chunkByID {
		chunkValues = append(chunkValues, c)
	}
	sortByFusedDesc(chunkValues)

	if pc.diagnosticsEnabled() {
		pc.Diagnostics.ChunkEnrichment = &ChunkEnrichmentStats{
			FilteredEntityCount:             len(pc.FilteredEntities),
			FallbackMinResults:              tuning.FallbackMinResults,
			ChunkSourcesConsidered:          chunkSourcesConsidered,
			ChunkCandidatesBeforeEnrichment: chunkCandidatesBefore,
			ChunkCandidatesAfterEnrichment:  len(chunkValues),
		}
	}

	pc.ChunkValues = chunkValues
	return nil
}

func groupChunksBySource(chunks map[string]Scored[model.TextChunk]) map[string][]Scored[model.TextChunk] {
	bySource := make(map[string][]Scored[model.TextChunk])
	for _, c := range chunks {
		bySource[c.Item.SourceID] = append(bySource[c.Item.SourceID], c)
	}
	return bySource
}

func backfillEntitiesFromChunks(ctx context.Context, pc *PipelineContext, chunkBySource map[string][]Scored[model.TextChunk], weights FusionWeights) error {
	var missingSources []string
	for sourceID := range chunkBySource {
		found := false
		for _, e := range pc.EntityCandidates {
			if e.Item.SourceID == sourceID {
				found = true
				break
			}
		}
		if !found {
			missingSources = append(missingSources, sourceID)
		}
	}
	if len(missingSources) == 0 {
		return nil
	}

	relatedEntities, err := pc.Store.ListEntitiesBySources(ctx, missingSources)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "list entities by sources for chunk backfill", err)
	}

	for _, entity := range relatedEntities {
		chunks, ok := chunkBySource[entity.SourceID]
		if !ok {
			continue
		}
		var best float32
		for _, c := range chunks {
			if c.Fused > best {
				best = c.Fused
			}
		}
		scored := newScored(entity)
		scored.withVectorScore(best)
		scored.updateFused(fuseScores(scored.Score, weights))
		pc.EntityCandidates[entity.ID] = scored
	}
	return nil
}

func boostEntitiesWithChunks(entityCandidates map[string]Scored[model.KnowledgeEntity], chunkBySource map[string][]Scored[model.TextChunk], weights FusionWeights) {
	for id, entity := range entityCandidates {
		chunks, ok := chunkBySource[entity.Item.SourceID]
		if !ok {
			continue
		}
		var best float32
		for _, c := range chunks {
			if c.Fused > best {
				best = c.Fused
			}
		}
		if best <= 0 {
			continue
		}
		var existing float32
		if entity.Score.Vector != nil {
			existing = *entity.Score.Vector
		}
		boosted := existing
		if best > boosted {
			boosted = best
		}
		entity.Score.Vector = f32ptr(boosted)
		entity.updateFused(fuseScores(entity.Score, weights))
		entityCandidates[id] = entity
	}
}

// enrichChunksFromEntities pulls every chunk belonging to a filtered
// entity's source into the chunk candidate set, inheriting 80% of the
// entity's fused score as a floor on the chunk's vector score when the
// chunk had no stronger direct score of its own.
func enrichChunksFromEntities(ctx context.Context, pc *PipelineContext, chunkCandidates map[string]Scored[model.TextChunk], entities []Scored[model.KnowledgeEntity], weights FusionWeights) error {
	sourceIDSet := make(map[string]struct{})
	for _, e := range entities {
		sourceIDSet[e.Item.SourceID] = struct{}{}
	}
	if len(sourceIDSet) == 0 {
		return nil
	}
	sourceIDs := make([]string, 0, len(sourceIDSet))
	for id := range sourceIDSet {
		sourceIDs = append(sourceIDs, id)
	}

	chunks, err := pc.Store.ListChunksBySources(ctx, sourceIDs)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabase, "list chunks by sources for entity enrichment", err)
	}

	entityScoreBySource := make(map[string]float32, len(entities))
	for _, e := range entities {
		entityScoreBySource[e.Item.SourceID] = e.Fused
	}

	for _, chunk := range chunks {
		entry, ok := chunkCandidates[chunk.ID]
		if !ok {
			entry = newScored(chunk)
			entry.withVectorScore(0)
		}

		entityScore := entityScoreBySource[chunk.SourceID]

		var existing float32
		if entry.Score.Vector != nil {
			existing = *entry.Score.Vector
		}
		inherited := entityScore * 0.8
		floor := existing
		if inherited > floor {
			floor = inherited
		}
		entry.Score.Vector = f32ptr(floor)
		entry.updateFused(fuseScores(entry.Score, weights))
		entry.Item = chunk
		chunkCandidates[chunk.ID] = entry
	}

	return nil
}
