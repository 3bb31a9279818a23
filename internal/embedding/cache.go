package embedding

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedEmbedder memoizes vectors per text for ttl. It sits on the query
// path where the same text is often asked for repeatedly.
type CachedEmbedder struct {
	inner Embedder
	cache *cache.Cache
}

// NewCachedEmbedder wraps inner with a cache whose entries expire after ttl
func NewCachedEmbedder(inner Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) Name() string { return c.inner.Name() }

// Embed embeds only the texts not already cached, in one inner call.
// Returned vectors may be shared with the cache and must not be modified.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var positions []int

	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, text)
		positions = append(positions, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := checkShape(vectors, len(missing), c.inner.Dimension()); err != nil {
		return nil, err
	}
	for j, v := range vectors {
		out[positions[j]] = v
		c.cache.SetDefault(missing[j], v)
	}
	return out, nil
}

// Len returns the number of cached entries, including expired ones not yet
// swept
func (c *CachedEmbedder) Len() int {
	return c.cache.ItemCount()
}
