package cache

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// LoadFunc produces the value to preload for a key.
type LoadFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// WarmConfig configures a warmup run.
type WarmConfig struct {
	// Timeout bounds the whole run. Zero means no timeout.
	Timeout time.Duration

	// Concurrency is the maximum number of keys loaded at once.
	Concurrency int
}

// DefaultWarmConfig returns sensible defaults for cache warming.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		Timeout:     30 * time.Second,
		Concurrency: 4,
	}
}

// WarmResult is the outcome of preloading a single key.
type WarmResult[K comparable] struct {
	Key      K
	Duration time.Duration
	Err      error
}

// WarmResults aggregates a warmup run.
type WarmResults[K comparable] struct {
	Results   []WarmResult[K]
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any key failed to load or store.
func (wr *WarmResults[K]) HasErrors() bool {
	return wr.Errors > 0
}

// Warm loads every key with load and stores it in dst. Failures are
// recorded per key and never stop the run.
func Warm[K comparable, V any](ctx context.Context, dst Cache[K, V], keys []K, load LoadFunc[K, V], cfg WarmConfig) *WarmResults[K] {
	start := time.Now()
	results := &WarmResults[K]{
		Results: make([]WarmResult[K], 0, len(keys)),
	}
	if len(keys) == 0 {
		return results
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}

	for _, key := range keys {
		g.Go(func() error {
			began := time.Now()
			err := warmKey(gctx, dst, key, load)

			mu.Lock()
			results.Results = append(results.Results, WarmResult[K]{
				Key:      key,
				Duration: time.Since(began),
				Err:      err,
			})
			if err != nil {
				results.Errors++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	results.TotalTime = time.Since(start)
	if results.Errors > 0 {
		log.Warn("cache warmup finished with errors", "errors", results.Errors, "keys", len(keys), "took", results.TotalTime)
	} else {
		log.Debug("cache warmup finished", "keys", len(keys), "took", results.TotalTime)
	}
	return results
}

func warmKey[K comparable, V any](ctx context.Context, dst Cache[K, V], key K, load LoadFunc[K, V]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := load(ctx, key)
	if err != nil {
		return err
	}
	return dst.Set(ctx, key, v)
}
