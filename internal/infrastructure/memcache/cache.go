// Package memcache is an in-process TTL cache for knowledge lookups.
// Entries are invalidated lazily on read and swept periodically.
package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe map with per-entry expiry, keyed by
// (kind, id) so independent lookup families share one instance.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	hits   int64
	misses int64

	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Instrument mirrors hit and miss counts into the given Prometheus
// counters. Call before the cache is shared.
func (c *Cache) Instrument(hits, misses prometheus.Counter) {
	c.hitCounter = hits
	c.missCounter = misses
}

func key(kind, id string) string { return kind + "\x00" + id }

// Get returns the cached value for (kind, id) if present and fresh.
func (c *Cache) Get(kind, id string) (any, bool) {
	k := key(kind, id)
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if ok && !time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		if c.hitCounter != nil {
			c.hitCounter.Inc()
		}
		return e.value, true
	}

	c.mu.Lock()
	// A concurrent Set may have refreshed the entry between the read
	// and this write lock; only evict what is still expired.
	if e, ok := c.entries[k]; ok {
		if !time.Now().After(e.expiresAt) {
			c.hits++
			c.mu.Unlock()
			if c.hitCounter != nil {
				c.hitCounter.Inc()
			}
			return e.value, true
		}
		delete(c.entries, k)
	}
	c.misses++
	c.mu.Unlock()
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
	return nil, false
}

// Set stores a value with the given ttl. A non-positive ttl stores
// nothing.
func (c *Cache) Set(kind, id string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key(kind, id)] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes an entry if present.
func (c *Cache) Delete(kind, id string) {
	c.mu.Lock()
	delete(c.entries, key(kind, id))
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats reports hit and miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Sweep removes expired entries until ctx is cancelled.
func (c *Cache) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
