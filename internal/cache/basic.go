package cache

import "context"

// Basic adapts a set of functions into a Cache. Any nil function behaves
// like an Invalid tier for that operation, which makes it easy to build
// read-only or write-only tiers from closures.
type Basic[K comparable, V any] struct {
	KeyValuesFunc     func(ctx context.Context) ([]Pair[K, V], error)
	GetFunc           func(ctx context.Context, key K) (V, error)
	SetFunc           func(ctx context.Context, key K, value V) error
	DeleteFunc        func(ctx context.Context, key K) error
	ClearFunc         func()
	MemoryWarningFunc func()
}

// Invalid returns a tier whose fallible operations all fail with ErrInvalid.
// Clear and OnMemoryWarning are no-ops.
func Invalid[K comparable, V any]() *Basic[K, V] {
	return &Basic[K, V]{}
}

// KeyValues calls KeyValuesFunc.
func (b *Basic[K, V]) KeyValues(ctx context.Context) ([]Pair[K, V], error) {
	if b.KeyValuesFunc == nil {
		return nil, ErrInvalid
	}
	return b.KeyValuesFunc(ctx)
}

// Get calls GetFunc.
func (b *Basic[K, V]) Get(ctx context.Context, key K) (V, error) {
	if b.GetFunc == nil {
		var zero V
		return zero, ErrInvalid
	}
	return b.GetFunc(ctx, key)
}

// Set calls SetFunc.
func (b *Basic[K, V]) Set(ctx context.Context, key K, value V) error {
	if b.SetFunc == nil {
		return ErrInvalid
	}
	return b.SetFunc(ctx, key, value)
}

// Delete calls DeleteFunc.
func (b *Basic[K, V]) Delete(ctx context.Context, key K) error {
	if b.DeleteFunc == nil {
		return ErrInvalid
	}
	return b.DeleteFunc(ctx, key)
}

// Clear calls ClearFunc.
func (b *Basic[K, V]) Clear() {
	if b.ClearFunc != nil {
		b.ClearFunc()
	}
}

// OnMemoryWarning calls MemoryWarningFunc.
func (b *Basic[K, V]) OnMemoryWarning() {
	if b.MemoryWarningFunc != nil {
		b.MemoryWarningFunc()
	}
}
