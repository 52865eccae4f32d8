package cache

import (
	"context"

	"github.com/charmbracelet/log"
)

// Composite chains a preferred tier in front of a fallback tier. Reads
// cascade from first to second and backfill first on a fallback hit; writes
// and deletes cascade first to second. A Composite is itself a Cache, so
// chains of any depth can be built.
type Composite[K comparable, V any] struct {
	first  Cache[K, V]
	second Cache[K, V]
	logger *log.Logger
}

// Compose returns first ⊕ second. Only WithLogger applies to a Composite.
func Compose[K comparable, V any](first, second Cache[K, V], opts ...Option) *Composite[K, V] {
	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Composite[K, V]{first: first, second: second, logger: o.logger}
}

// Chain composes tiers from fastest to slowest. It panics when called
// without tiers.
func Chain[K comparable, V any](tiers ...Cache[K, V]) Cache[K, V] {
	if len(tiers) == 0 {
		panic("cache: Chain needs at least one tier")
	}
	c := tiers[0]
	for _, t := range tiers[1:] {
		c = Compose(c, t)
	}
	return c
}

// KeyValues answers from the first tier, or entirely from the second if the
// first fails. Results are never merged.
func (c *Composite[K, V]) KeyValues(ctx context.Context) ([]Pair[K, V], error) {
	if pairs, err := c.first.KeyValues(ctx); err == nil {
		return pairs, nil
	}
	return c.second.KeyValues(ctx)
}

// Get tries the first tier, then the second. A hit in the second tier is
// written back into the first before returning.
func (c *Composite[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, err := c.first.Get(ctx, key); err == nil {
		return v, nil
	}

	v, err := c.second.Get(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	if err := c.first.Set(ctx, key, v); err != nil {
		c.logger.Debug("cache backfill failed", "key", key, "error", err)
	}
	return v, nil
}

// Set writes to the first tier and then to the second. A failure in the
// first tier stops the cascade.
func (c *Composite[K, V]) Set(ctx context.Context, key K, value V) error {
	if err := c.first.Set(ctx, key, value); err != nil {
		return err
	}
	return c.second.Set(ctx, key, value)
}

// Delete removes key from the first tier and then the second. Only the
// second tier's outcome is reported.
func (c *Composite[K, V]) Delete(ctx context.Context, key K) error {
	_ = c.first.Delete(ctx, key)
	return c.second.Delete(ctx, key)
}

// Clear clears both tiers.
func (c *Composite[K, V]) Clear() {
	c.first.Clear()
	c.second.Clear()
}

// OnMemoryWarning forwards the warning to both tiers.
func (c *Composite[K, V]) OnMemoryWarning() {
	c.first.OnMemoryWarning()
	c.second.OnMemoryWarning()
}
