// Package ttlcache provides a small, explicitly scoped cache with TTL-based
// invalidation. Instances are injected into call sites; entries are allowed
// to be stale for at most their TTL by design.
package ttlcache

import (
	"sync"
	"time"
)

// Cache stores values for up to a fixed TTL.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[K]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a cache whose entries expire after ttl.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.clock().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key for the cache TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock().Add(c.ttl)}
}

// Invalidate removes key from the cache.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// SetClock overrides the time source. Intended for tests.
func (c *Cache[K, V]) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clock != nil {
		c.clock = clock
	}
}
