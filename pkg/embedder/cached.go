package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedEmbedder memoizes vectors of a Client in a ristretto cache. Only
// texts missing from the cache are sent to the underlying client, in one call.
type CachedEmbedder struct {
	client Client
	cache  *ristretto.Cache[string, []float32]
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder caches up to size vectors.
func NewCachedEmbedder(client Client, size int64, logger *slog.Logger) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 10_000
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// Each vector costs 1 so size counts entries.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{client: client, cache: cache, logger: logger}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	missingAt := map[string][]int{}

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			c.hits.Add(1)
			continue
		}
		if _, queued := missingAt[t]; !queued {
			missing = append(missing, t)
		}
		missingAt[t] = append(missingAt[t], i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missing)))

	vectors, err := c.client.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missing), len(vectors))
	}
	for i, t := range missing {
		c.cache.Set(t, vectors[i], 1)
		for _, at := range missingAt[t] {
			out[at] = vectors[i]
		}
	}
	c.cache.Wait()
	c.logger.Debug("embedded texts", "requested", len(texts), "fetched", len(missing))
	return out, nil
}

func (c *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return single(ctx, c, text)
}

func (c *CachedEmbedder) Dimensions() int { return c.client.Dimensions() }

// Stats returns cache hits and misses since creation.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
