package lru

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/tiercache/internal/cache"
)

// Config configures a Cache.
type Config struct {
	// MaxSize is the maximum number of entries. Zero means unbounded.
	MaxSize int

	// DefaultTTL applies to entries stored with Set. Zero means no expiry.
	DefaultTTL time.Duration

	// CleanupInterval is how often expired entries are swept. Zero
	// disables the sweeper; expired entries are then only dropped on read.
	CleanupInterval time.Duration
}

// Stats holds cache performance metrics
type Stats struct {
	Size      int
	MaxSize   int
	Requests  int64
	Hits      int64
	Evictions int64
	Expired   int64
	HitRate   float64
}

// Option configures a Cache.
type Option func(*settings)

type settings struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// item is one cached value and its bookkeeping.
type item[V any] struct {
	value        V
	written      time.Time
	ttl          time.Duration
	accessCount  int64
	lastAccessed time.Time
	seq          uint64
}

// Cache is a mutex-guarded memory cache with TTL expiry and eviction of the
// least frequently, then least recently, used entries.
type Cache[K comparable, V any] struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	items map[K]*item[V]
	seq   uint64

	requests  int64
	hits      int64
	evictions int64
	expired   int64

	// Cleanup goroutine control
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a cache and starts its sweeper when cfg.CleanupInterval > 0.
// Call Close to stop the sweeper.
func New[K comparable, V any](cfg Config, opts ...Option) *Cache[K, V] {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}

	c := &Cache[K, V]{
		cfg:   cfg,
		now:   s.now,
		items: make(map[K]*item[V]),
		stop:  make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		c.startCleanupRoutine()
	}
	return c
}

// Get returns the value for key. Expired entries are removed and reported
// as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lookup(key, nil)
}

// lookup is Get with an optional accept check. A live entry that accept
// rejects is a miss and leaves the hit and access bookkeeping untouched.
func (c *Cache[K, V]) lookup(key K, accept func(V) bool) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	c.requests++

	it, ok := c.items[key]
	if !ok {
		return zero, false
	}

	now := c.now()
	if it.expiredAt(now) {
		delete(c.items, key)
		c.expired++
		return zero, false
	}
	if accept != nil && !accept(it.value) {
		return zero, false
	}

	it.accessCount++
	it.lastAccessed = now
	c.hits++
	return it.value, true
}

// Set stores value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value with an explicit TTL, replacing any previous
// entry and its bookkeeping. If the cache grows past MaxSize, the least
// valuable entries are evicted.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.seq++
	c.items[key] = &item[V]{
		value:        value,
		written:      now,
		ttl:          ttl,
		lastAccessed: now,
		seq:          c.seq,
	}

	if c.cfg.MaxSize > 0 && len(c.items) > c.cfg.MaxSize {
		c.evict(len(c.items) - c.cfg.MaxSize)
	}
}

// Remove deletes key and reports whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

// Clear removes all entries. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*item[V])
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// HitRate returns hits / requests, or 0 before the first request.
func (c *Cache[K, V]) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hitRate()
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:      len(c.items),
		MaxSize:   c.cfg.MaxSize,
		Requests:  c.requests,
		Hits:      c.hits,
		Evictions: c.evictions,
		Expired:   c.expired,
		HitRate:   c.hitRate(),
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, it := range c.items {
		if it.expiredAt(now) {
			delete(c.items, key)
			removed++
		}
	}
	c.expired += int64(removed)
	return removed
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache[K, V]) Close() {
	c.once.Do(func() {
		close(c.stop)
		c.wg.Wait()
	})
}

// Tier exposes the cache through the cache.Cache contract so it can be
// composed in front of slower tiers.
func (c *Cache[K, V]) Tier() cache.Cache[K, V] {
	return &cache.Basic[K, V]{
		KeyValuesFunc: func(context.Context) ([]cache.Pair[K, V], error) {
			return c.snapshot(), nil
		},
		GetFunc: func(_ context.Context, key K) (V, error) {
			v, ok := c.Get(key)
			if !ok {
				return v, cache.ErrNotFound
			}
			return v, nil
		},
		SetFunc: func(_ context.Context, key K, value V) error {
			c.Set(key, value)
			return nil
		},
		DeleteFunc: func(_ context.Context, key K) error {
			if !c.Remove(key) {
				return cache.ErrNotFound
			}
			return nil
		},
		ClearFunc:         c.Clear,
		MemoryWarningFunc: c.Clear,
	}
}

// snapshot returns the unexpired pairs without touching access bookkeeping.
func (c *Cache[K, V]) snapshot() []cache.Pair[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pairs := make([]cache.Pair[K, V], 0, len(c.items))
	for key, it := range c.items {
		if it.expiredAt(now) {
			continue
		}
		pairs = append(pairs, cache.Pair[K, V]{Key: key, Value: it.value})
	}
	return pairs
}

// evict removes n entries ordered by access count, then last access, then
// insertion order (must be called with lock held).
func (c *Cache[K, V]) evict(n int) {
	type candidate struct {
		key K
		it  *item[V]
	}

	candidates := make([]candidate, 0, len(c.items))
	for k, it := range c.items {
		candidates = append(candidates, candidate{key: k, it: it})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].it, candidates[j].it
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.seq < b.seq
	})

	for _, cand := range candidates[:n] {
		delete(c.items, cand.key)
		c.evictions++
	}
}

func (c *Cache[K, V]) hitRate() float64 {
	if c.requests == 0 {
		return 0
	}
	return float64(c.hits) / float64(c.requests)
}

// startCleanupRoutine starts the background sweep goroutine.
func (c *Cache[K, V]) startCleanupRoutine() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// expiredAt reports whether now - written > ttl.
func (it *item[V]) expiredAt(now time.Time) bool {
	return it.ttl > 0 && now.Sub(it.written) > it.ttl
}
