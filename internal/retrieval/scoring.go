// Package retrieval implements the hybrid retrieval pipeline (spec
// 4.E): a staged machine that turns a user query into a ranked,
// token-budgeted set of entities (with attached chunks) or, in its
// chunk-only mode, a ranked set of chunks. Ported stage-for-stage from
// the original's retrieval-pipeline/src/pipeline/stages/mod.rs.
package retrieval

import "sort"

// ScoreSet holds the per-channel scores a candidate has accumulated so
// far. A channel is "unset" (nil) until some stage populates it, which
// matters for fusion: fuseScores only averages over channels that are
// actually present.
type ScoreSet struct {
	Vector *float32
	FTS    *float32
	Graph  *float32
}

// Scored pairs a candidate item with its accumulating ScoreSet and the
// current fused score. Generic over KnowledgeEntity and TextChunk, the
// two item types the pipeline ranks.
type Scored[T any] struct {
	Item  T
	Score ScoreSet
	Fused float32
}

// newScored wraps an item with an empty score set.
func newScored[T any](item T) Scored[T] {
	return Scored[T]{Item: item}
}

func (s *Scored[T]) withVectorScore(v float32) Scored[T] {
	s.Score.Vector = &v
	return *s
}

// updateFused overwrites the cached fused score.
func (s *Scored[T]) updateFused(f float32) {
	s.Fused = f
}

// FusionWeights controls how the vector/FTS/graph channels combine into
// one fused score. Weights apply only to channels present on a given
// candidate; the result is renormalized by the sum of weights actually
// used, so a candidate found by FTS alone isn't penalised for lacking
// a vector score.
type FusionWeights struct {
	Vector float32
	FTS    float32
	Graph  float32
}

// DefaultFusionWeights is the weighting used throughout the pipeline:
// uniform across whichever channels are present on a given candidate,
// so no channel is assumed more trustworthy than another by default.
func DefaultFusionWeights() FusionWeights {
	return FusionWeights{Vector: 1.0 / 3, FTS: 1.0 / 3, Graph: 1.0 / 3}
}

// clampUnit clamps a score into [0,1].
func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fuseScores combines the channels present on scores into one value in
// [0,1], weighted by weights and renormalized over the channels that
// are actually set. A candidate with no channel set at all fuses to 0.
func fuseScores(scores ScoreSet, weights FusionWeights) float32 {
	var sum, weightSum float32
	if scores.Vector != nil {
		sum += *scores.Vector * weights.Vector
		weightSum += weights.Vector
	}
	if scores.FTS != nil {
		sum += *scores.FTS * weights.FTS
		weightSum += weights.FTS
	}
	if scores.Graph != nil {
		sum += *scores.Graph * weights.Graph
		weightSum += weights.Graph
	}
	if weightSum == 0 {
		return 0
	}
	return clampUnit(sum / weightSum)
}

// minMaxNormalize rescales raw scores to [0,1] by their observed
// min/max. When every score is equal (including the single-element and
// empty cases) every output is 1, so a uniform FTS result set isn't
// zeroed out by a degenerate range.
func minMaxNormalize(raw []float32) []float32 {
	out := make([]float32, len(raw))
	if len(raw) == 0 {
		return out
	}
	min, max := raw[0], raw[0]
	for _, v := range raw[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min
	for i, v := range raw {
		if span <= 0 {
			out[i] = 1
			continue
		}
		out[i] = clampUnit((v - min) / span)
	}
	return out
}

// mergeScoredByID folds incoming candidates into an existing id-keyed
// map, merging per-channel scores (later writers only overwrite a
// channel, they never clear one an earlier writer set) and replacing
// the carried item with the freshest copy.
func mergeScoredByID[T any](existing map[string]Scored[T], incoming []Scored[T], idOf func(T) string) {
	for _, cand := range incoming {
		id := idOf(cand.Item)
		entry, ok := existing[id]
		if !ok {
			existing[id] = cand
			continue
		}
		entry.Item = cand.Item
		if cand.Score.Vector != nil {
			entry.Score.Vector = cand.Score.Vector
		}
		if cand.Score.FTS != nil {
			entry.Score.FTS = cand.Score.FTS
		}
		if cand.Score.Graph != nil {
			entry.Score.Graph = cand.Score.Graph
		}
		existing[id] = entry
	}
}

// sortByFusedDesc sorts candidates by fused score, highest first.
func sortByFusedDesc[T any](items []Scored[T]) {
	sort.Slice(items, func(i, j int) bool { return items[i].Fused > items[j].Fused })
}

func f32ptr(v float32) *float32 { return &v }
