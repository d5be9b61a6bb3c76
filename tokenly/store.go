package tokenly

import (
	"context"
	"sync"
)

// TokenStore holds the last extracted token for one engine.
//
// Implementations must be safe for concurrent use. Set is only called with a non-empty
// token; a failed extraction never reaches the store.
type TokenStore interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string) error
}

// MemoryStore is the default in-process TokenStore. A single RWMutex guards the value,
// so readers never observe a half-written token.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Get(_ context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != "", nil
}

func (s *MemoryStore) Set(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}
