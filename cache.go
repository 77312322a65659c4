package fetchgraph

import (
	"context"
	"time"
)

// Cache is the port used by the query cache to store result key lists.
// Region implementations live in cache/lru (in-process) and cache/redis
// (shared); users may plug in any other store.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheMode controls how a session interacts with the query cache.
type CacheMode uint8

// Cache modes.
const (
	// CacheNormal reads from and writes to the cache.
	CacheNormal CacheMode = iota
	// CacheIgnore neither reads nor writes.
	CacheIgnore
	// CacheGet reads but never writes.
	CacheGet
	// CachePut writes but never reads.
	CachePut
	// CacheRefresh writes, overriding entries, without reading.
	CacheRefresh
)

// IsGetEnabled reports whether the mode allows cache reads.
func (m CacheMode) IsGetEnabled() bool {
	return m == CacheNormal || m == CacheGet
}

// IsPutEnabled reports whether the mode allows cache writes.
func (m CacheMode) IsPutEnabled() bool {
	return m == CacheNormal || m == CachePut || m == CacheRefresh
}

// String returns the mode name.
func (m CacheMode) String() string {
	switch m {
	case CacheNormal:
		return "normal"
	case CacheIgnore:
		return "ignore"
	case CacheGet:
		return "get"
	case CachePut:
		return "put"
	case CacheRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}
