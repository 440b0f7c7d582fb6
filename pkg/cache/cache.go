// Package cache implements the shared object cache: a
// cost-weighted LRU bounded by a byte budget, with eviction triggered
// synchronously on insert, and an optional on-disk spill for entries
// evicted from memory. The disk spill is a simple BoltDB store: one
// bucket, byte-blob values, opened once at startup.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/burrow/pkg/metrics"
)

// entry pairs a cached value with the cost the caller reported for
// it, so an eviction frees exactly the bytes that entry counted
// against the budget. Entries are evicted in LRU order, not by cost.
type entry struct {
	value []byte
	cost  int64
}

// Cache is a cost-weighted, byte-budgeted LRU. Get/Put are safe for
// concurrent use; eviction happens inline inside Put, never on a
// background goroutine, so a Put returns only after the budget holds
// again.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, entry]
	budget int64
	used   int64
	spill  Spill
}

// Spill is the optional on-disk overflow a Cache can fall back to
// when an entry is evicted from memory. A nil Spill makes eviction
// simply drop the entry.
type Spill interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
}

// New creates a Cache with the given byte budget and an optional
// disk-spill backend (pass nil to disable spilling).
func New(budgetBytes int64, spill Spill) (*Cache, error) {
	// The underlying LRU is keyed with no fixed capacity ceiling of its
	// own; byte-budget eviction is enforced by Put, so the count-based
	// size just needs to be large enough not to bind in practice.
	inner, err := lru.New[string, entry](1 << 20)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: inner, budget: budgetBytes, spill: spill}, nil
}

// Get returns the cached value for key, checking memory first and
// falling back to the disk spill if configured.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		metrics.CacheHitsTotal.Inc()
		return e.value, true
	}
	c.mu.Unlock()

	if c.spill != nil {
		if data, ok, err := c.spill.Get(key); err == nil && ok {
			metrics.CacheHitsTotal.Inc()
			return data, true
		}
	}
	metrics.CacheMissesTotal.Inc()
	return nil, false
}

// Put inserts value under key with the given cost estimate in bytes,
// evicting least-recently-used entries until the budget is satisfied.
// Evicted entries are handed to the disk spill, if configured, before
// being dropped from memory.
func (c *Cache) Put(key string, value []byte, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(key); ok {
		c.used -= old.cost
		c.lru.Remove(key)
	}

	for c.used+cost > c.budget && c.lru.Len() > 0 {
		evictedKey, evicted, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.used -= evicted.cost
		if c.spill != nil {
			_ = c.spill.Put(evictedKey, evicted.value)
		}
	}

	c.lru.Add(key, entry{value: value, cost: cost})
	c.used += cost
}

// Remove evicts key from memory (and the disk spill, if configured)
// without waiting for budget pressure, for callers that know an entry
// is now stale (e.g. a node's metadata was updated).
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	if e, ok := c.lru.Peek(key); ok {
		c.used -= e.cost
		c.lru.Remove(key)
	}
	c.mu.Unlock()

	if c.spill != nil {
		_ = c.spill.Delete(key)
	}
}

// Len returns the number of entries currently held in memory.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Used returns the total cost currently accounted for in memory.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
