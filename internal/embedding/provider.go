// Package embedding provides the text-to-vector pipeline: two interchangeable
// backends (an HTTP-based neural model server, and a CPU-only portable
// fallback) behind a single process-wide LRU-cached Provider.
package embedding

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/mnemo/internal/hashutil"
)

// Provider turns text into a fixed-dimension embedding vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// CachedProvider wraps a backend Provider with a bounded LRU cache keyed by
// content hash, so repeated embeddings of identical text (common across
// re-indexing and duplicate imports) skip the backend entirely.
type CachedProvider struct {
	backend Provider
	cache   *lru.Cache[string, []float32]
}

// NewCachedProvider wraps backend with an LRU cache of the given capacity.
func NewCachedProvider(backend Provider, capacity int) (*CachedProvider, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{backend: backend, cache: cache}, nil
}

// Embed returns the cached vector for text if present, otherwise computes
// it via the backend and caches the result.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashutil.ContentHash(text, nil)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Dimension delegates to the backend.
func (c *CachedProvider) Dimension() int { return c.backend.Dimension() }

var _ Provider = (*CachedProvider)(nil)
