// Package cache is a small TTL cache with LRU eviction, fronting the read
// endpoints (leaderboard, recent matches, agent profiles) so hot queries do
// not hit SQLite on every request.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Default TTLs for the read endpoints.
const (
	LeaderboardTTL   = 300 * time.Second
	RecentMatchesTTL = 120 * time.Second
	AgentProfileTTL  = 600 * time.Second

	// DefaultMaxEntries bounds the cache; the oldest untouched entry is
	// evicted when full.
	DefaultMaxEntries = 1024
)

type entry struct {
	key     string
	value   any
	storedAt time.Time
	elem    *list.Element
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a thread-safe TTL cache with LRU eviction. Expired entries are
// cleaned up lazily on Get; there is no background goroutine.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used
	ttl     time.Duration
	max     int
	stats   Stats
}

// New creates a cache with the given TTL and capacity.
func New(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		max:     maxEntries,
	}
}

// Get returns the cached value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if time.Since(e.storedAt) > c.ttl {
		c.removeLocked(e)
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(e.elem)
	c.stats.Hits++
	return e.value, true
}

// Set stores a value, evicting the least recently used entry when full.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.storedAt = time.Now()
		c.order.MoveToFront(e.elem)
		return
	}

	if len(c.entries) >= c.max {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back.Value.(*entry))
			c.stats.Evictions++
		}
	}

	e := &entry{key: key, value: value, storedAt: time.Now()}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e
}

// Invalidate removes one key, typically after a write that outdates it.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len reports the number of live entries, including not-yet-collected
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}
