// Package metrics exposes cache behaviour as Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/dgnsrekt/tiercache/internal/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Request results.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultExpired = "expired"
	ResultError   = "error"
)

// Metrics holds all Prometheus metrics for the cache.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Evictions *prometheus.CounterVec
	HitRate   *prometheus.GaugeVec
	Entries   *prometheus.GaugeVec
}

// New creates and registers all metrics with the provided registry.
func New(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_requests_total",
		Help: "Cache reads by outcome",
	}, []string{"cache", "result"})

	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_evictions_total",
		Help: "Entries removed by capacity maintenance",
	}, []string{"cache", "tier"})

	hitRate := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiercache_hit_rate",
		Help: "Hit rate per LRU domain",
	}, []string{"domain"})

	entries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tiercache_entries",
		Help: "Live entries per LRU domain",
	}, []string{"domain"})

	reg.MustRegister(requests, evictions, hitRate, entries)

	return &Metrics{
		Requests:  requests,
		Evictions: evictions,
		HitRate:   hitRate,
		Entries:   entries,
	}
}

// ObserveDomain records an LRU domain snapshot.
func (m *Metrics) ObserveDomain(domain string, hitRate float64, entries int) {
	m.HitRate.WithLabelValues(domain).Set(hitRate)
	m.Entries.WithLabelValues(domain).Set(float64(entries))
}

// EvictionHook returns a function suitable for cache.WithEvictionHook.
func (m *Metrics) EvictionHook(name string) func(cache.Level, int) {
	return func(tier cache.Level, n int) {
		m.Evictions.WithLabelValues(name, tier.String()).Add(float64(n))
	}
}

// Instrumented counts the outcome of every Get on the wrapped tier.
type Instrumented[K comparable, V any] struct {
	cache.Cache[K, V]

	name    string
	metrics *Metrics
}

// Instrument wraps c so its reads are counted under name.
func Instrument[K comparable, V any](name string, c cache.Cache[K, V], m *Metrics) *Instrumented[K, V] {
	return &Instrumented[K, V]{Cache: c, name: name, metrics: m}
}

// Get reads through the wrapped tier and records the result.
func (i *Instrumented[K, V]) Get(ctx context.Context, key K) (V, error) {
	v, err := i.Cache.Get(ctx, key)
	i.metrics.Requests.WithLabelValues(i.name, result(err)).Inc()
	return v, err
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultHit
	case errors.Is(err, cache.ErrNotFound):
		return ResultMiss
	case errors.Is(err, cache.ErrExpired):
		return ResultExpired
	default:
		return ResultError
	}
}
