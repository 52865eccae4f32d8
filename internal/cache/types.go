package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrNotFound is returned when a key is absent at a tier
	ErrNotFound = errors.New("cache: key not found")

	// ErrExpired is returned when a value is present but past its expiry
	ErrExpired = errors.New("cache: value expired")

	// ErrInvalid is returned by tiers that are structurally unusable
	ErrInvalid = errors.New("cache: invalid tier")
)

// Level identifies a tier inside an orchestrated cache.
type Level int

const (
	// LevelMemory is the volatile in-process tier
	LevelMemory Level = iota

	// LevelDisk is the durable tier
	LevelDisk
)

// String returns the string representation of the cache level
func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Pair is a single key/value snapshot returned by KeyValues.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

// Cache is the contract every tier and every composite satisfies.
type Cache[K comparable, V any] interface {
	// KeyValues returns a snapshot of all pairs held by the tier.
	KeyValues(ctx context.Context) ([]Pair[K, V], error)

	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key K) (V, error)

	// Set stores value under key, fully replacing any previous value.
	Set(ctx context.Context, key K, value V) error

	// Delete removes key, returning ErrNotFound if it was absent.
	Delete(ctx context.Context, key K) error

	// Clear empties this tier.
	Clear()

	// OnMemoryWarning responds to host memory pressure.
	OnMemoryWarning()
}

// Modifiable is implemented by values that expose their last write time.
type Modifiable interface {
	ModifyDate() time.Time
}

// Emptyable is implemented by values that can represent no content.
// Empty values are never persisted by the orchestrated cache.
type Emptyable interface {
	IsEmpty() bool
}

// isEmpty reports whether v opts in to Emptyable and is empty.
func isEmpty(v any) bool {
	e, ok := v.(Emptyable)
	return ok && e.IsEmpty()
}
