package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoizes (model, text) -> vector in a process-wide LRU,
// playing the role the original's "one loaded model per model code for
// the process lifetime" caching plays for an embedded model: here there
// is no model to keep resident, so the cache instead amortizes repeated
// embeds of identical chunk/entity text, which happens constantly during
// evaluation re-seeding (spec 4.I: "reseed from shards").
type CachedProvider struct {
	inner     Provider
	modelCode string
	cache     *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU of the given size, keyed by
// modelCode+text.
func NewCached(inner Provider, modelCode string, size int) (*CachedProvider, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedProvider{inner: inner, modelCode: modelCode, cache: cache}, nil
}

func (c *CachedProvider) Dimension() int { return c.inner.Dimension() }

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.modelCode + "\x00" + text
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := c.modelCode + "\x00" + text
		if vec, ok := c.cache.Get(key); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		c.cache.Add(c.modelCode+"\x00"+missTexts[j], vecs[j])
	}
	return out, nil
}

var _ Provider = (*CachedProvider)(nil)
