// Package memo is a short-TTL in-process lookup cache.
//
// It fronts the durable cache store for small, frequently-read values
// such as computed configuration, saving a store round-trip within a
// single process lifetime. It is scoped to one process and must never
// hold page payloads, which have to be shared across serving processes
// through the durable store.
package memo

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cache is a TTL map with a background janitor.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	janitorInterval time.Duration
	stopJanitor     chan struct{}
	stopOnce        sync.Once
}

// New creates a cache whose janitor removes expired entries every
// interval. A zero interval disables the janitor.
func New(janitorInterval time.Duration) *Cache {
	c := &Cache{
		entries:         make(map[string]entry),
		janitorInterval: janitorInterval,
		stopJanitor:     make(chan struct{}),
	}
	if janitorInterval > 0 {
		go c.janitor()
	}
	return c
}

// Get returns the value for the key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores the value with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// GetOrCompute returns the cached value or computes, stores and
// returns it. A compute error is returned without caching anything.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete removes the key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Flush removes every entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Close stops the janitor goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopJanitor) })
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(c.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopJanitor:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
}
