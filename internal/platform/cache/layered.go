package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// DefaultL1MaxTTL caps how long an entry may live in the memory tier.
// L2 keeps the caller's full TTL; L1 staleness is bounded by this cap.
const DefaultL1MaxTTL = 1 * time.Minute

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis)
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
	logger   *slog.Logger
}

// LayeredCacheConfig configures a layered cache.
type LayeredCacheConfig struct {
	L1       Cache
	L2       Cache
	L1MaxTTL time.Duration
	Logger   *slog.Logger
}

// NewLayeredCache creates a new layered cache with default L1 TTL cap
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithLogger creates a layered cache that logs degraded reads
func NewLayeredCacheWithLogger(l1, l2 Cache, logger *slog.Logger) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, Logger: logger})
}

// NewLayeredCacheWithConfig creates a layered cache from explicit configuration
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	return &LayeredCache{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		logger:   cfg.Logger,
	}
}

// Get retrieves a value from cache (L1 → L2 → miss). An L1 read error
// degrades to L2 rather than failing the lookup.
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, error) {
	if lc.l1 != nil {
		val, err := lc.l1.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) && lc.logger != nil {
			lc.logger.Warn("L1 cache read failed, falling back to L2", "key", key, "error", err)
		}
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		if err == nil {
			// Backfill L1 on L2 hit, with the capped TTL
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1MaxTTL)
			}
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

// Set stores a value in both cache layers (write-through). L1 TTL is
// capped at l1MaxTTL; L2 keeps the full TTL.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1TTL := ttl
		if ttl > lc.l1MaxTTL {
			l1TTL = lc.l1MaxTTL
		}
		l1Err = lc.l1.Set(ctx, key, value, l1TTL)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
	}

	// Losing one layer is tolerable; losing both is not
	if l1Err != nil && l2Err != nil {
		return l2Err
	}

	return nil
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Delete(ctx, key)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Delete(ctx, key)
	}

	if l1Err != nil {
		return l1Err
	}
	if l2Err != nil {
		return l2Err
	}

	return nil
}

// Invalidate removes a key, or every key under a prefix when keyOrPrefix
// ends with ':'. Both layers are cleared before this returns, so a caller
// that invalidates before acknowledging a backing-store write cannot leave
// a concurrent reader with a stale entry.
func (lc *LayeredCache) Invalidate(ctx context.Context, keyOrPrefix string) error {
	if !strings.HasSuffix(keyOrPrefix, ":") {
		return lc.Delete(ctx, keyOrPrefix)
	}

	for _, layer := range []Cache{lc.l1, lc.l2} {
		if layer == nil {
			continue
		}
		if inv, ok := layer.(PrefixInvalidator); ok {
			if err := inv.InvalidatePrefix(ctx, keyOrPrefix); err != nil {
				return err
			}
		}
	}

	return nil
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Close()
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Close()
	}

	if l1Err != nil {
		return l1Err
	}
	if l2Err != nil {
		return l2Err
	}

	return nil
}
