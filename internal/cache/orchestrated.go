package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures an Orchestrated cache or a Composite.
type Option func(*options)

type options struct {
	now     func() time.Time
	logger  *log.Logger
	onEvict func(level Level, n int)
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used for swallowed errors.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvictionHook registers a callback invoked after each capacity pass
// that removed at least one entry from a tier.
func WithEvictionHook(fn func(level Level, n int)) Option {
	return func(o *options) { o.onEvict = fn }
}

// Orchestrated couples a memory tier and a disk tier. Memory is a lazily
// populated subset of disk, so enumeration always goes to disk and capacity
// is enforced on each tier separately.
type Orchestrated[K comparable, V Modifiable] struct {
	memory  Cache[K, V]
	disk    Cache[K, V]
	maxSize int
	expiry  time.Duration

	now     func() time.Time
	logger  *log.Logger
	onEvict func(level Level, n int)
}

// NewOrchestrated creates a two-tier cache holding at most maxSize entries
// per tier, whose values expire expiry after their ModifyDate. A maxSize
// of zero or less disables eviction and an expiry of zero or less disables
// expiry.
func NewOrchestrated[K comparable, V Modifiable](memory, disk Cache[K, V], maxSize int, expiry time.Duration, opts ...Option) *Orchestrated[K, V] {
	o := options{
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Orchestrated[K, V]{
		memory:  memory,
		disk:    disk,
		maxSize: maxSize,
		expiry:  expiry,
		now:     o.now,
		logger:  o.logger,
		onEvict: o.onEvict,
	}
}

// KeyValues enumerates the disk tier.
func (c *Orchestrated[K, V]) KeyValues(ctx context.Context) ([]Pair[K, V], error) {
	return c.disk.KeyValues(ctx)
}

// Get reads through memory to disk and rejects values past their expiry.
// An expired value is removed from both tiers and ErrExpired is returned.
func (c *Orchestrated[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V

	v, err := c.memory.Get(ctx, key)
	if err != nil {
		v, err = c.disk.Get(ctx, key)
		if err != nil {
			return zero, err
		}
		if err := c.memory.Set(ctx, key, v); err != nil {
			c.logger.Debug("memory backfill failed", "key", key, "error", err)
		}
	}

	if c.expired(v) {
		if err := c.disk.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			c.logger.Debug("expired entry delete failed", "key", key, "tier", LevelDisk, "error", err)
		}
		_ = c.memory.Delete(ctx, key)
		return zero, ErrExpired
	}
	return v, nil
}

// Set writes to memory and then disk, as one unit: if the disk write fails
// the memory write is undone. Empty values are dropped silently. After a
// successful write each tier is trimmed to maxSize.
func (c *Orchestrated[K, V]) Set(ctx context.Context, key K, value V) error {
	if isEmpty(value) {
		return nil
	}

	if err := c.memory.Set(ctx, key, value); err != nil {
		return fmt.Errorf("memory write: %w", err)
	}
	if err := c.disk.Set(ctx, key, value); err != nil {
		_ = c.memory.Delete(ctx, key)
		return fmt.Errorf("disk write: %w", err)
	}

	c.enforceCapacity(ctx, LevelMemory, c.memory)
	c.enforceCapacity(ctx, LevelDisk, c.disk)
	return nil
}

// Delete removes key from memory, if present, and from disk.
func (c *Orchestrated[K, V]) Delete(ctx context.Context, key K) error {
	_ = c.memory.Delete(ctx, key)

	if err := c.disk.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Clear empties the memory tier only. Disk is durable state; use
// ClearDurable to wipe it.
func (c *Orchestrated[K, V]) Clear() {
	c.memory.Clear()
}

// OnMemoryWarning empties the memory tier only.
func (c *Orchestrated[K, V]) OnMemoryWarning() {
	c.memory.OnMemoryWarning()
}

// ClearDurable empties both tiers.
func (c *Orchestrated[K, V]) ClearDurable() {
	c.memory.Clear()
	c.disk.Clear()
}

// Purge eagerly removes every expired entry from disk and memory and
// returns how many disk entries were removed.
func (c *Orchestrated[K, V]) Purge(ctx context.Context) (int, error) {
	if c.expiry <= 0 {
		return 0, nil
	}

	pairs, err := c.disk.KeyValues(ctx)
	if err != nil {
		return 0, fmt.Errorf("list disk entries: %w", err)
	}

	removed := 0
	for _, p := range pairs {
		if !c.expired(p.Value) {
			continue
		}
		_ = c.memory.Delete(ctx, p.Key)
		if err := c.disk.Delete(ctx, p.Key); err != nil {
			c.logger.Debug("purge delete failed", "key", p.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// expired reports whether now - ModifyDate - expiry >= 0.
func (c *Orchestrated[K, V]) expired(v V) bool {
	if c.expiry <= 0 {
		return false
	}
	elapsed := c.now().Sub(v.ModifyDate()) - c.expiry
	return elapsed >= 0
}

// enforceCapacity keeps the newest maxSize entries of one tier and deletes
// the rest. Individual delete failures are logged and skipped.
func (c *Orchestrated[K, V]) enforceCapacity(ctx context.Context, level Level, tier Cache[K, V]) {
	if c.maxSize <= 0 {
		return
	}

	pairs, err := tier.KeyValues(ctx)
	if err != nil {
		c.logger.Debug("capacity check skipped", "tier", level, "error", err)
		return
	}
	if len(pairs) <= c.maxSize {
		return
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Value.ModifyDate().After(pairs[j].Value.ModifyDate())
	})

	evicted := 0
	for _, p := range pairs[c.maxSize:] {
		if err := tier.Delete(ctx, p.Key); err != nil {
			c.logger.Debug("eviction failed", "key", p.Key, "tier", level, "error", err)
			continue
		}
		evicted++
	}

	if evicted > 0 {
		c.logger.Debug("evicted entries", "tier", level, "count", evicted)
		if c.onEvict != nil {
			c.onEvict(level, evicted)
		}
	}
}
