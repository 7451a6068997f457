// Package cache provides the keyed response cache fronting expensive
// recommendation results: an in-memory LRU tier with TTL expiry, a Redis
// tier, and a layered combination of the two.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is not found in cache. A miss is
	// normal control flow for callers, not a failure.
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidValue is returned when a cached value cannot be decoded
	// as the caller's payload type
	ErrInvalidValue = errors.New("cache: invalid value")
)

// TTL classes callers pick per use case. Short is for volatile lookups,
// medium for semi-stable data, long for expensive stable computations
// such as a full generation result.
const (
	TTLShort  = 10 * time.Minute
	TTLMedium = 45 * time.Minute
	TTLLong   = 24 * time.Hour
)

// Cache defines the interface for cache operations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key from cache. No-op if the key is absent.
	Delete(ctx context.Context, key string) error

	// Close closes the cache connection
	Close() error
}

// PrefixInvalidator is implemented by caches that can drop every entry
// under a key prefix. Used when the data a set of entries represents
// changes in the backing store: invalidation must complete before the
// store write is acknowledged, so once this returns no subsequent Get
// can observe the stale entries.
type PrefixInvalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) error
}
