// Package lru provides a memory-only cache with per-entry TTL and
// access-frequency eviction, and a Manager that owns one such cache per
// market data domain.
package lru
