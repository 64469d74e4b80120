// Package cache provides the in-process TTL cache layer backing every
// enrichment lookup. One Cache instance exists per data-volatility class
// (listing, lookup, derived, generated); all are process-wide singletons
// constructed at startup and injected into the orchestrator.
package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Clock supplies the current time. Injectable so tests can simulate expiry.
type Clock func() time.Time

// Cache is a concurrent-safe key/value store with per-entry expiry.
// There is no eviction beyond expiry; writes always replace, never merge.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration
	now        Clock
	hits       atomic.Int64
	misses     atomic.Int64
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache whose Set uses defaultTTL when no explicit TTL is given.
func New(defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key. A read past expiry is equivalent to
// absence; the expired entry is dropped on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for the cache's default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL, replacing any
// existing entry.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes key. Used by bypass flags, which must delete before the
// get-or-compute path runs rather than read-then-ignore.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteContaining removes every key whose string representation contains
// substr. Invalidating a listing also invalidates its dependent per-field
// keys, all of which embed the listing key.
func (c *Cache) DeleteContaining(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.Contains(k, substr) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats contains hit/miss counters.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cache performance counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Entries: entries, Hits: hits, Misses: misses, HitRate: rate}
}
