package retrieval

import "github.com/perstarkse/minnego/internal/model"

// assemble builds the final entity results: for each filtered entity
// (highest fused score first), pull its source's chunks, rank them by
// combined fused+lexical score, and take up to MaxChunksPerEntity while
// a shared token budget lasts. Stops entirely once the budget is spent.
func assemble(pc *PipelineContext) error {
	tuning := pc.Tuning
	questionTerms := extractKeywords(pc.InputText)

	chunkBySource := make(map[string][]Scored[model.TextChunk])
	for _, c := range pc.ChunkValues {
		chunkBySource[c.Item.SourceID] = append(chunkBySource[c.Item.SourceID], c)
	}
	pc.ChunkValues = nil

	for source, list := range chunkBySource {
		rankChunksByCombinedScore(list, questionTerms, tuning.LexicalMatchWeight)
		chunkBySource[source] = list
	}

	tokenBudgetRemaining := tuning.TokenBudgetEstimate
	var results []RetrievedEntity
	diagnosticsEnabled := pc.diagnosticsEnabled()
	var perEntityTraces []EntityAssemblyTrace
	chunksSkippedDueBudget := 0
	chunksSelected := 0
	tokensSpent := 0

	for _, entity := range pc.FilteredEntities {
		var selectedChunks []RetrievedChunk
		var trace *EntityAssemblyTrace
		if diagnosticsEnabled {
			trace = &EntityAssemblyTrace{EntityID: entity.Item.ID, SourceID: entity.Item.SourceID}
		}

		if candidates, ok := chunkBySource[entity.Item.SourceID]; ok {
			perEntityCount := 0
			for _, candidate := range candidates {
				if trace != nil {
					trace.InspectedCandidates++
				}
				if perEntityCount >= tuning.MaxChunksPerEntity {
					break
				}
				estimatedTokens := estimateTokens(candidate.Item.Chunk, tuning.AvgCharsPerToken)
				if estimatedTokens > tokenBudgetRemaining {
					chunksSkippedDueBudget++
					if trace != nil {
						trace.SkippedDueBudget++
					}
					continue
				}

				tokenBudgetRemaining -= estimatedTokens
				tokensSpent += estimatedTokens
				perEntityCount++
				chunksSelected++

				selectedChunks = append(selectedChunks, RetrievedChunk{Chunk: candidate.Item, Score: candidate.Fused})
				if trace != nil {
					trace.SelectedChunkIDs = append(trace.SelectedChunkIDs, candidate.Item.ID)
					trace.SelectedChunkScores = append(trace.SelectedChunkScores, candidate.Fused)
				}
			}
		}

		results = append(results, RetrievedEntity{
			Entity: entity.Item,
			Score:  entity.Fused,
			Chunks: selectedChunks,
		})

		if trace != nil {
			perEntityTraces = append(perEntityTraces, *trace)
		}

		if tokenBudgetRemaining <= 0 {
			break
		}
	}

	if diagnosticsEnabled {
		pc.Diagnostics.Assemble = &AssembleStats{
			TokenBudgetStart:       tuning.TokenBudgetEstimate,
			TokenBudgetSpent:       tokensSpent,
			TokenBudgetRemaining:   tokenBudgetRemaining,
			BudgetExhausted:        tokenBudgetRemaining <= 0,
			ChunksSelected:         chunksSelected,
			ChunksSkippedDueBudget: chunksSkippedDueBudget,
			EntityCount:            len(pc.FilteredEntities),
			EntityTraces:           perEntityTraces,
		}
	}

	pc.EntityResults = results
	return nil
}
