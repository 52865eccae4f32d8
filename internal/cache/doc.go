// Package cache provides the composable tiered cache used by every market
// data repository. It includes an in-memory tier, a cascading composition
// operator, and an orchestrated memory/disk cache with TTL expiry and
// per-tier capacity eviction.
package cache
