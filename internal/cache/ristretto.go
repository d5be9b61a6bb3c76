package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewRistrettoCache sizes a ristretto cache. Compiled patterns are few, so callers
// typically pass a small maxCost and a cost of 1 per entry.
func NewRistrettoCache(numCounters, maxCost int64, bufferItems int64) (*RistrettoCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &RistrettoCache{cache: cache}, nil
}

func (r *RistrettoCache) Get(key string) (any, bool) {
	return r.cache.Get(key)
}

// Set stores value. A zero ttl keeps the entry until it is evicted.
func (r *RistrettoCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	if ttl <= 0 {
		return r.cache.Set(key, value, cost)
	}
	return r.cache.SetWithTTL(key, value, cost, ttl)
}

func (r *RistrettoCache) Del(key string) {
	r.cache.Del(key)
}

// Wait flushes pending sets so an immediate Get observes them.
func (r *RistrettoCache) Wait() { r.cache.Wait() }

// Close stops the cache's background goroutines.
func (r *RistrettoCache) Close() { r.cache.Close() }
