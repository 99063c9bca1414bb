package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashedProvider_Deterministic(t *testing.T) {
	p := NewHashed(16)

	v1, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	v2, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
}

func TestHashedProvider_DifferentTextsDiffer(t *testing.T) {
	p := NewHashed(16)

	v1, err := p.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	v2, err := p.Embed(context.Background(), "beta")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

type countingProvider struct {
	calls int
	dim   int
}

func (c *countingProvider) Dimension() int { return c.dim }

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func TestCachedProvider_AvoidsRecomputingSeenText(t *testing.T) {
	inner := &countingProvider{dim: 1}
	cached, err := NewCached(inner, "model-a", 32)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
}

func TestCachedProvider_BatchOnlyCallsInnerForMisses(t *testing.T) {
	inner := &countingProvider{dim: 1}
	cached, err := NewCached(inner, "model-a", 32)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	out, err := cached.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Len(t, out, 3)
}
