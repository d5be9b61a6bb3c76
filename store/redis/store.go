// Package redis provides a tokenly.TokenStore backed by Redis, so several
// processes handling the same session share one token.
//
// Concurrency: Store is safe for concurrent use; Redis serializes the writes.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keksclan/goTokenly/tokenly"
	"github.com/redis/go-redis/v9"
)

var _ tokenly.TokenStore = (*Store)(nil)

// DefaultKey is the Redis key used when no key is configured.
const DefaultKey = "tokenly:token"

// Store keeps the current token under a single Redis key.
type Store struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the Redis key. Use a distinct key per session handling action.
func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithTTL expires the stored token after ttl. Zero keeps it until overwritten.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a Store using client.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, key: DefaultKey}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the stored token. A missing or expired key reports false.
func (s *Store) Get(ctx context.Context) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return val, val != "", nil
}

// Set stores token. An empty token is ignored so the last good token survives.
func (s *Store) Set(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
