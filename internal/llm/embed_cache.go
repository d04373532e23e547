package llm

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings of an underlying EmbeddingGenerator.
// Memory index texts are re-embedded on every upsert and every startup
// re-index, so remote embedders benefit from not recomputing them.
type CachedEmbedder struct {
	inner EmbeddingGenerator
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a cache bounded to roughly maxBytes of
// vectors. Non-positive maxBytes uses 64 MiB.
func NewCachedEmbedder(inner EmbeddingGenerator, maxBytes int64) (*CachedEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text or computes and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v.([]float32), nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

// Wait blocks until pending cache writes are visible.
func (c *CachedEmbedder) Wait() {
	c.cache.Wait()
}

// GetModel returns the model of the wrapped embedder.
func (c *CachedEmbedder) GetModel() string {
	return c.inner.GetModel()
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}

// Compile-time assertion.
var _ EmbeddingGenerator = (*CachedEmbedder)(nil)
