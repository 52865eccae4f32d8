package cache

import (
	"context"
	"sync"
)

// Memory is the in-process tier. It is a mutex-guarded map with no expiry
// and no eviction; bounding it is the job of whatever composes it.
type Memory[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
}

// NewMemory creates an empty memory tier.
func NewMemory[K comparable, V any]() *Memory[K, V] {
	return &Memory[K, V]{
		items: make(map[K]V),
	}
}

// KeyValues returns a snapshot of every pair in the tier.
func (m *Memory[K, V]) KeyValues(_ context.Context) ([]Pair[K, V], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pairs := make([]Pair[K, V], 0, len(m.items))
	for k, v := range m.items {
		pairs = append(pairs, Pair[K, V]{Key: k, Value: v})
	}
	return pairs, nil
}

// Get retrieves a value from the tier.
func (m *Memory[K, V]) Get(_ context.Context, key K) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Set stores a value in the tier.
func (m *Memory[K, V]) Set(_ context.Context, key K, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = value
	return nil
}

// Delete removes an entry from the tier.
func (m *Memory[K, V]) Delete(_ context.Context, key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}
	delete(m.items, key)
	return nil
}

// Clear removes all entries from the tier.
func (m *Memory[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[K]V)
}

// OnMemoryWarning clears the tier.
func (m *Memory[K, V]) OnMemoryWarning() {
	m.Clear()
}

// Len returns the number of entries currently held.
func (m *Memory[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.items)
}
