package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuseScores_OnlyAveragesPresentChannels(t *testing.T) {
	weights := DefaultFusionWeights()

	onlyVector := ScoreSet{Vector: f32ptr(0.8)}
	assert.InDelta(t, 0.8, fuseScores(onlyVector, weights), 1e-6)

	onlyFTS := ScoreSet{FTS: f32ptr(0.4)}
	assert.InDelta(t, 0.4, fuseScores(onlyFTS, weights), 1e-6)

	all := ScoreSet{Vector: f32ptr(1), FTS: f32ptr(1), Graph: f32ptr(1)}
	assert.InDelta(t, 1.0, fuseScores(all, weights), 1e-6)

	none := ScoreSet{}
	assert.Equal(t, float32(0), fuseScores(none, weights))
}

func TestFuseScores_Monotonic(t *testing.T) {
	weights := DefaultFusionWeights()
	low := fuseScores(ScoreSet{Vector: f32ptr(0.2), FTS: f32ptr(0.2)}, weights)
	high := fuseScores(ScoreSet{Vector: f32ptr(0.9), FTS: f32ptr(0.9)}, weights)
	assert.Less(t, low, high)

	// Increasing any single channel, holding the rest fixed, must never
	// decrease the fused score — the monotonicity invariant retrieval
	// fusion must uphold.
	base := ScoreSet{Vector: f32ptr(0.3), FTS: f32ptr(0.3), Graph: f32ptr(0.3)}
	bumped := ScoreSet{Vector: f32ptr(0.6), FTS: f32ptr(0.3), Graph: f32ptr(0.3)}
	assert.LessOrEqual(t, fuseScores(base, weights), fuseScores(bumped, weights))
}

func TestFuseScores_ClampedToUnit(t *testing.T) {
	weights := FusionWeights{Vector: 2, FTS: 2, Graph: 2}
	result := fuseScores(ScoreSet{Vector: f32ptr(1)}, weights)
	assert.LessOrEqual(t, result, float32(1))
	assert.GreaterOrEqual(t, result, float32(0))
}

func TestMinMaxNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   []float32
		want []float32
	}{
		{"empty", nil, nil},
		{"uniform", []float32{5, 5, 5}, []float32{1, 1, 1}},
		{"spread", []float32{0, 5, 10}, []float32{0, 0.5, 1}},
		{"single", []float32{3}, []float32{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := minMaxNormalize(tc.in)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			require := assert.New(t)
			require.Equal(len(tc.want), len(got))
			for i := range tc.want {
				require.InDelta(tc.want[i], got[i], 1e-6)
			}
		})
	}
}

func TestMergeScoredByID_MergesChannelsWithoutClobbering(t *testing.T) {
	existing := map[string]Scored[string]{}
	idOf := func(s string) string { return s }

	first := Scored[string]{Item: "a"}
	first.Score.Vector = f32ptr(0.5)
	mergeScoredByID(existing, []Scored[string]{first}, idOf)

	second := Scored[string]{Item: "a"}
	second.Score.FTS = f32ptr(0.7)
	mergeScoredByID(existing, []Scored[string]{second}, idOf)

	merged := existing["a"]
	assert.NotNil(t, merged.Score.Vector)
	assert.InDelta(t, 0.5, *merged.Score.Vector, 1e-6)
	assert.NotNil(t, merged.Score.FTS)
	assert.InDelta(t, 0.7, *merged.Score.FTS, 1e-6)
}

func TestSortByFusedDesc(t *testing.T) {
	items := []Scored[string]{
		{Item: "low", Fused: 0.1},
		{Item: "high", Fused: 0.9},
		{Item: "mid", Fused: 0.5},
	}
	sortByFusedDesc(items)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{items[0].Item, items[1].Item, items[2].Item})
}
