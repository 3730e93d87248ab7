// Package cache provides an in-process TTL cache used to shortcut dashboard
// aggregate reads. It is never the source of truth: entries can vanish at
// any time (restart, sweep, eviction) without affecting ingestion
// correctness, and it is never consulted for duplicate detection.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value      any
	insertedAt time.Time
	ttl        time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

// Cache is an explicitly constructed instance; callers own its lifecycle.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a cache whose Set calls with ttl<=0 fall back to defaultTTL.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		stop:       make(chan struct{}),
	}
}

// Set stores value under key. ttl<=0 uses the cache default; use SetForever
// for entries that should survive until explicitly deleted.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.put(key, value, ttl)
}

// SetForever stores a non-expiring entry, used for last-known fallback
// values that must outlive their fresh counterparts.
func (c *Cache) SetForever(key string, value any) {
	c.put(key, value, 0)
}

func (c *Cache) put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, insertedAt: time.Now(), ttl: ttl}
}

// Get returns the live value for key. An entry past its TTL is dropped on
// this first observing read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Has reports whether a live entry exists for key, applying the same lazy
// expiry as Get.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Cleanup removes all expired entries in one pass.
func (c *Cache) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of held entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper runs Cleanup every interval until Stop is called. The sweep
// holds the lock only for a single pass over held entries.
func (c *Cache) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
