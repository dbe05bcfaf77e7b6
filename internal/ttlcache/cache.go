// Package ttlcache is an in-process key/value store with per-entry expiry.
//
// Expired entries are dropped lazily when they are read; there is no
// background sweeper and no capacity bound.
package ttlcache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is safe for concurrent use. Concurrent Set calls for the same key
// resolve last-write-wins.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	now     func() time.Time
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{
		entries: make(map[K]entry[V]),
		now:     o.now,
	}
}

// Get returns the value for key if it exists and has not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(now) {
		c.evict(key, now)
		var zero V
		return zero, false
	}
	return e.value, true
}

// evict removes key only if it is still expired; a Set that raced in
// between the read and the write lock wins.
func (c *Cache[K, V]) evict(key K, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.expired(now) {
		delete(c.entries, key)
	}
}

// Set stores value under key for ttl, replacing any existing entry and its
// expiry. A non-positive ttl stores nothing.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts entries that have not expired yet.
func (c *Cache[K, V]) Len() int {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}
