package tokenly

import (
	"context"
	"log/slog"
	"time"
)

// Cache memoises compiled patterns and policies.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// MetricsCollector receives extraction and injection counters.
// All methods must be safe for concurrent use. Implementations never see token values.
type MetricsCollector interface {
	TokenExtracted(action string)
	TokenMissed(action string)
	TokenInjected(action, target string)
}

// Injection targets reported to MetricsCollector.
const (
	TargetHeader = "header"
	TargetCookie = "cookie"
)

// SettingsSource resolves configuration for each invocation, for hosts whose settings
// can change while the action is registered.
type SettingsSource interface {
	Settings(ctx context.Context) (Config, error)
}

// StaticSettings is a SettingsSource that always returns the same Config.
type StaticSettings Config

func (s StaticSettings) Settings(context.Context) (Config, error) { return Config(s), nil }

type Option func(*Engine)

func WithStore(s TokenStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

func WithCache(c Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithSettings makes the engine resolve its configuration from src on every Handle call
// instead of using the Config passed to New.
func WithSettings(src SettingsSource) Option {
	return func(e *Engine) {
		e.settings = src
	}
}

type noopMetrics struct{}

func (noopMetrics) TokenExtracted(string)        {}
func (noopMetrics) TokenMissed(string)           {}
func (noopMetrics) TokenInjected(string, string) {}
