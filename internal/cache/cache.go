package cache

import "context"

// Package cache provides the result cache used by the anomaly engine.
//
// Responsibilities:
//   - Memoize batch detection results per (metric, configuration) key
//   - Bound memory with LRU eviction once max entries is reached
//   - Optionally expire entries after a TTL
//   - Monitor cache hit/miss rates
//
// Cache Key Strategy:
//   - JSON-quoted metric name + ":" + serialized detection configuration
//   - Example: "cpu":{"algorithm":"zscore",...}
//
// Freshness is decided by the caller: the engine treats a cached result as
// stale when its first anomaly is older than the freshness window, even if
// the entry has not expired here.
//
// Invalidation Triggers:
//   - TTL expiration (lazy, on access)
//   - LRU eviction when the cache is full
//   - Pattern invalidation (e.g. every key of one metric)
//   - User-initiated clear cache

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Cache defines the interface for caching operations.
type Cache interface {
	// Get retrieves a cached value by key.
	// Returns: value, found (bool), error
	Get(ctx context.Context, key string) (interface{}, bool, error)

	// Set stores a value with given key and TTL.
	// ttlSeconds: time to live in seconds (0 = never expire)
	Set(ctx context.Context, key string, value interface{}, ttlSeconds int) error

	// Delete removes a key from cache.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from cache.
	Clear(ctx context.Context) error

	// Invalidate removes every key matching a glob pattern (e.g. `"cpu":*`).
	// Returns the number of removed entries.
	Invalidate(ctx context.Context, pattern string) (int, error)

	// GetStats returns cache statistics.
	GetStats(ctx context.Context) (Stats, error)

	// Len returns the number of stored entries, expired ones included until
	// they are next touched.
	Len() int
}
