// Package source adapts a remote fetch function into a read-only cache tier
// that sits behind the memory and disk tiers in a composite.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// FetchFunc loads the authoritative value for a key. It returns
// cache.ErrNotFound when the remote has nothing for the key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Option configures a Source.
type Option func(*config)

type config struct {
	requestsPerMinute int
	burst             int
	logger            *log.Logger
}

// WithRateLimit caps remote fetches per minute. Zero disables the limiter.
func WithRateLimit(requestsPerMinute, burst int) Option {
	return func(c *config) {
		c.requestsPerMinute = requestsPerMinute
		c.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Source is a read-only cache.Cache backed by a remote fetch.
type Source[K comparable, V any] struct {
	fetch   FetchFunc[K, V]
	limiter *rate.Limiter
	logger  *log.Logger

	// collapses concurrent fetches of the same key
	sf singleflight.Group
}

// New creates a Source. By default fetches are limited to 60 per minute.
func New[K comparable, V any](fetch FetchFunc[K, V], opts ...Option) *Source[K, V] {
	cfg := config{requestsPerMinute: 60, burst: 1, logger: log.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Source[K, V]{fetch: fetch, logger: cfg.logger}
	if cfg.requestsPerMinute > 0 {
		if cfg.burst < 1 {
			cfg.burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.requestsPerMinute)), cfg.burst)
	}
	return s
}

// Get fetches key from the remote. Concurrent callers for the same key
// share one fetch.
func (s *Source[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	val, err, shared := s.sf.Do(fmt.Sprint(key), func() (any, error) {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
			}
		}
		return s.fetch(ctx, key)
	})
	if err != nil {
		return zero, err
	}
	if shared {
		s.logger.Debug("shared remote fetch", "key", key)
	}

	v, ok := val.(V)
	if !ok {
		return zero, cache.ErrNotFound
	}
	return v, nil
}

// KeyValues is not supported by a remote source.
func (s *Source[K, V]) KeyValues(context.Context) ([]cache.Pair[K, V], error) {
	return nil, cache.ErrInvalid
}

// Set does nothing. The remote is never written through the cache.
func (s *Source[K, V]) Set(context.Context, K, V) error { return nil }

// Delete does nothing.
func (s *Source[K, V]) Delete(context.Context, K) error { return nil }

// Clear does nothing.
func (s *Source[K, V]) Clear() {}

// OnMemoryWarning does nothing.
func (s *Source[K, V]) OnMemoryWarning() {}
