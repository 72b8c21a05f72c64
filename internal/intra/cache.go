// ABOUTME: Optional ristretto-backed cache for upstream GET responses.
// ABOUTME: Entries are keyed by path and encoded query and expire after a short TTL.

package intra

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// CacheConfig controls the optional upstream response cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxCost int64
}

// responseCache wraps ristretto with the enabled toggle; a disabled cache
// never stores or returns anything.
type responseCache struct {
	enabled bool
	ttl     time.Duration
	store   *ristretto.Cache
}

func newResponseCache(cfg CacheConfig) (*responseCache, error) {
	if !cfg.Enabled {
		return &responseCache{}, nil
	}

	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = 32 << 20
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &responseCache{enabled: true, ttl: ttl, store: rc}, nil
}

func (c *responseCache) get(key string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	if v, ok := c.store.Get(key); ok {
		if b, ok := v.([]byte); ok {
			return b, true
		}
	}
	return nil, false
}

func (c *responseCache) set(key string, val []byte) {
	if !c.enabled {
		return
	}
	c.store.SetWithTTL(key, val, int64(len(val)), c.ttl)
}

// wait blocks until buffered writes are applied.
func (c *responseCache) wait() {
	if c.enabled {
		c.store.Wait()
	}
}

func (c *responseCache) close() {
	if c.enabled {
		c.store.Close()
	}
}
