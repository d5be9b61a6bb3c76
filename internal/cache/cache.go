// Package cache holds the small cache abstraction used to memoise compiled patterns
// and policies, plus its ristretto implementation.
package cache

import (
	"time"
)

type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// Waiter is implemented by caches that apply writes asynchronously.
type Waiter interface {
	Wait()
}

// Flush blocks until pending writes to c are visible, if c buffers them.
func Flush(c any) {
	if w, ok := c.(Waiter); ok {
		w.Wait()
	}
}
