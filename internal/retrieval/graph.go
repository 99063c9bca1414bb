package retrieval

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/perstarkse/minnego/internal/apperr"
	"github.com/perstarkse/minnego/internal/model"
)

// graphSeed is a high-scoring entity the graph walk fans out from.
type graphSeed struct {
	id    string
	fused float32
}

// seedsFromCandidates picks the entities whose fused score already
// clears graphSeedMinScore, highest first, capped at limit — graph
// expansion only follows edges from candidates the other channels
// already trust.
func seedsFromCandidates(candidates map[string]Scored[model.KnowledgeEntity], minScore float32, limit int) []graphSeed {
	seeds := make([]graphSeed, 0, len(candidates))
	for _, c := range candidates {
		if c.Fused >= minScore {
			seeds = append(seeds, graphSeed{id: c.Item.ID, fused: c.Fused})
		}
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].fused > seeds[j].fused })
	if len(seeds) > limit {
		seeds = seeds[:limit]
	}
	return seeds
}

// neighborsOfEntity resolves the entity ids adjacent to id, in either
// relationship direction, via the store's relationship edges.
func neighborsOfEntity(ctx context.Context, pc *PipelineContext, id string) ([]string, error) {
	rels, err := pc.Store.NeighborsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(rels)*2)
	var ids []string
	for _, r := range rels {
		var other string
		if r.FromEntityID == id {
			other = r.ToEntityID
		} else {
			other = r.FromEntityID
		}
		if other == "" || other == id {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids, nil
}

// expandGraph walks relationships outward from high-scoring entity
// seeds, inheriting a decayed graph score (and, through it, a decayed
// vector score) into each neighbour not already beaten by a better
// direct score.
func expandGraph(ctx context.Context, pc *PipelineContext) error {
	tuning := pc.Tuning
	weights := DefaultFusionWeights()

	if len(pc.EntityCandidates) == 0 {
		return nil
	}

	seeds := seedsFromCandidates(pc.EntityCandidates, tuning.GraphSeedMinScore, tuning.GraphTraversalSeedLim)
	if len(seeds) == 0 {
		return nil
	}

	type seedNeighbors struct {
		seed      graphSeed
		neighbors []string
	}
	results := make([]seedNeighbors, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range seeds {
		i, seed := i, seed
		g.Go(func() error {
			neighborIDs, err := neighborsOfEntity(gctx, pc, seed.id)
			if err != nil {
				return apperr.Wrap(apperr.KindDatabase, "resolve graph neighbors", err)
			}
			limit := tuning.GraphNeighborLimit
			if limit > 0 && len(neighborIDs) > limit {
				neighborIDs = neighborIDs[:limit]
			}
			results[i] = seedNeighbors{seed: seed, neighbors: neighborIDs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, sn := range results {
		if len(sn.neighbors) == 0 {
			continue
		}
		for _, neighborID := range sn.neighbors {
			graphScore := clampUnit(sn.seed.fused * tuning.GraphScoreDecay)

			entry, ok := pc.EntityCandidates[neighborID]
			if !ok {
				neighborEntity, err := pc.Store.GetEntity(ctx, neighborID)
				if err != nil {
					continue
				}
				entry = newScored(neighborEntity)
			}

			inheritedVector := clampUnit(graphScore * tuning.GraphVectorInheritance)
			var vectorExisting float32
			if entry.Score.Vector != nil {
				vectorExisting = *entry.Score.Vector
			}
			if inheritedVector > vectorExisting {
				entry.Score.Vector = f32ptr(inheritedVector)
			}

			existingGraph := float32(-1)
			if entry.Score.Graph != nil {
				existingGraph = *entry.Score.Graph
			}
			if graphScore > existingGraph || entry.Score.Graph == nil {
				entry.Score.Graph = f32ptr(graphScore)
			}

			entry.updateFused(fuseScores(entry.Score, weights))
			pc.EntityCandidates[neighborID] = entry
		}
	}

	return nil
}
