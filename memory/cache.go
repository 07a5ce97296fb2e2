package memory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder wraps an Embedder and caches query vectors by text.
// Document embeddings are never cached: every stored entry is embedded
// fresh. Safe for concurrent use.
type CachedEmbedder struct {
	Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder caches up to maxQueries query vectors in front of e.
func NewCachedEmbedder(e Embedder, maxQueries int64) (*CachedEmbedder, error) {
	if maxQueries <= 0 {
		maxQueries = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxQueries * 10,
		MaxCost:            maxQueries,
		BufferItems:        64,
		IgnoreInternalCost: true, // cost is one per query
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &CachedEmbedder{Embedder: e, cache: cache}, nil
}

// EmbedQuery returns the cached vector for text, embedding it on a miss.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vector, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vector, 1)
	return vector, nil
}

// Wait blocks until pending cache writes are applied.
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
