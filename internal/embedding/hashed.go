package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// HashedProvider is a deterministic, network-free embedding backend for
// evaluation runs: each dimension is derived from an FNV hash of the
// text salted by the dimension index, then L2-normalized. Two calls
// with the same text always produce the same vector, which is all the
// evaluation harness needs for reproducible fixture runs.
type HashedProvider struct {
	dimension int
}

// NewHashed constructs a HashedProvider of the given dimension.
func NewHashed(dimension int) *HashedProvider {
	return &HashedProvider{dimension: dimension}
}

func (p *HashedProvider) Dimension() int { return p.dimension }

func (p *HashedProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, p.dimension), nil
}

func (p *HashedProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashEmbed(t, p.dimension)
	}
	return out, nil
}

func hashEmbed(text string, dimension int) []float32 {
	vec := make([]float32, dimension)
	var sumSquares float64
	for i := 0; i < dimension; i++ {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		v := float32(h.Sum32()%2000)/1000 - 1 // in [-1, 1)
		vec[i] = v
		sumSquares += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

var _ Provider = (*HashedProvider)(nil)
