package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the subset of cache operations a typed view needs.
type Store interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Typed binds a cache instance to one payload type. The memory tier
// hands back the stored value as-is; remote tiers hand back the JSON
// they stored, which is decoded into T here. Callers get a typed Get
// either way and never see the serialization boundary.
type Typed[T any] struct {
	store Store
}

// NewTyped creates a typed view over a cache.
func NewTyped[T any](store Store) *Typed[T] {
	return &Typed[T]{store: store}
}

// Get retrieves the value for a key, decoding raw bytes from remote
// tiers. A value of the wrong shape returns ErrInvalidValue.
func (t *Typed[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T

	val, err := t.store.Get(ctx, key)
	if err != nil {
		return zero, err
	}

	if v, ok := val.(T); ok {
		return v, nil
	}

	var raw []byte
	switch b := val.(type) {
	case json.RawMessage:
		raw = b
	case []byte:
		raw = b
	default:
		return zero, fmt.Errorf("%w: have %T", ErrInvalidValue, val)
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return out, nil
}

// Set stores a typed value with the given TTL.
func (t *Typed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	return t.store.Set(ctx, key, value, ttl)
}
