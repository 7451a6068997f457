package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSize is the capacity used when none is configured.
const DefaultMaxSize = 1000

// cacheItem represents an item in the cache
type cacheItem struct {
	key          string
	value        interface{}
	expiration   time.Time
	lastAccessed time.Time
}

// MemoryCache implements an in-memory LRU cache with TTL support.
//
// The LRU list is kept in access order: a Get moves the entry to the
// front, so the back of the list is always the least-recently-accessed
// entry. Entries inserted without a later access keep insertion order,
// which makes the eviction tie-break "earliest inserted first" for free.
// TTL expiry is independent of LRU: it is checked lazily on every read
// and by a periodic sweep; whichever mechanism fires first removes the
// entry.
type MemoryCache struct {
	maxSize   int
	items     map[string]*list.Element
	lru       *list.List
	mu        sync.Mutex
	stopCh    chan struct{}
	closeOnce sync.Once

	// Eviction counters, exposed through Stats for observability wiring.
	lruEvictions int64
	ttlEvictions int64
}

// NewMemoryCache creates a new in-memory cache with a periodic expiry sweep.
func NewMemoryCache(maxSize int) *MemoryCache {
	return NewMemoryCacheWithSweep(maxSize, 1*time.Minute)
}

// NewMemoryCacheWithSweep creates a cache with a custom sweep interval.
// A non-positive interval disables the background sweep; expiry is then
// enforced only lazily at read time.
func NewMemoryCacheWithSweep(maxSize int, sweepInterval time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	c := &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go c.sweep(sweepInterval)
	}

	return c
}

// Get retrieves a value from cache. A hit refreshes the entry's recency
// and lastAccessed timestamp; an expired entry is treated as absent and
// purged before returning.
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return nil, ErrNotFound
	}

	item := element.Value.(*cacheItem)

	if time.Now().After(item.expiration) {
		c.remove(key)
		c.ttlEvictions++
		return nil, ErrNotFound
	}

	item.lastAccessed = time.Now()
	c.lru.MoveToFront(element)

	return item.value, nil
}

// Set stores a value in cache with TTL. An existing entry is overwritten
// in place. If the insert pushes the cache past capacity, the
// least-recently-accessed entry is evicted first.
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expiration := now.Add(ttl)

	if element, exists := c.items[key]; exists {
		item := element.Value.(*cacheItem)
		item.value = value
		item.expiration = expiration
		item.lastAccessed = now
		c.lru.MoveToFront(element)
		return nil
	}

	item := &cacheItem{
		key:          key,
		value:        value,
		expiration:   expiration,
		lastAccessed: now,
	}

	element := c.lru.PushFront(item)
	c.items[key] = element

	if c.lru.Len() > c.maxSize {
		c.evictOldest()
	}

	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix.
// Removal is visible to any Get that starts after this returns.
func (c *MemoryCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	toRemove := make([]string, 0)
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		c.remove(key)
	}

	return nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	return nil
}

// remove removes an item (caller must hold lock)
func (c *MemoryCache) remove(key string) {
	if element, exists := c.items[key]; exists {
		c.lru.Remove(element)
		delete(c.items, key)
	}
}

// evictOldest removes the least-recently-accessed item (caller must hold lock)
func (c *MemoryCache) evictOldest() {
	element := c.lru.Back()
	if element != nil {
		item := element.Value.(*cacheItem)
		c.remove(item.key)
		c.lruEvictions++
	}
}

// sweep periodically removes expired items
func (c *MemoryCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

// sweepExpired removes all expired items
func (c *MemoryCache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	toRemove := make([]string, 0)

	for key, element := range c.items {
		item := element.Value.(*cacheItem)
		if now.After(item.expiration) {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		c.remove(key)
		c.ttlEvictions++
	}
}

// MemoryCacheStats holds point-in-time cache statistics.
type MemoryCacheStats struct {
	Size         int
	MaxSize      int
	LRUEvictions int64
	TTLEvictions int64
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MemoryCacheStats{
		Size:         len(c.items),
		MaxSize:      c.maxSize,
		LRUEvictions: c.lruEvictions,
		TTLEvictions: c.ttlEvictions,
	}
}
