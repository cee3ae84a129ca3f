package incremental

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/storage"
	"git.home.luguber.info/inful/assetbuilder/internal/transform"
)

// ResultCache stores transform results in an object store, keyed by a digest
// of the unit's path, raw content, transform chain and globals document.
type ResultCache struct {
	store  storage.BlobStore
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// Stats counts cache lookups since the cache was created.
type Stats struct {
	Hits   int64
	Misses int64
	Writes int64
}

// NewResultCache creates a transform-result cache on top of store.
func NewResultCache(store storage.BlobStore) *ResultCache {
	return &ResultCache{
		store:  store,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (c *ResultCache) WithLogger(logger *slog.Logger) *ResultCache {
	c.logger = logger
	return c
}

// Get returns the cached result for key. Unreadable entries count as misses.
func (c *ResultCache) Get(key string) (*transform.Result, bool) {
	data, err := c.store.Get(context.Background(), key)
	if err != nil {
		if !storage.IsNotFound(err) {
			c.logger.Warn("Failed to read cached transform result", slog.String("key", key), logfields.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}
	var res transform.Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("Discarding corrupt cached transform result", slog.String("key", key), logfields.Error(err))
		_ = c.store.Delete(context.Background(), key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &res, true
}

// Put stores res under key.
func (c *ResultCache) Put(key string, res *transform.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal transform result: %w", err)
	}
	if err := c.store.Put(context.Background(), key, data); err != nil {
		return fmt.Errorf("store transform result: %w", err)
	}
	c.writes.Add(1)
	return nil
}

// Prune drops entries unused for longer than maxAge.
func (c *ResultCache) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	removed, err := c.store.Prune(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		c.logger.Info("Pruned transform cache", logfields.Count(removed))
	}
	return removed, nil
}

// Stats returns lookup counters.
func (c *ResultCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Writes: c.writes.Load()}
}

// Close closes the underlying store.
func (c *ResultCache) Close() error {
	return c.store.Close()
}
