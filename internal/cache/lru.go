// Package cache provides caching implementations for Heron.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// cacheKey scopes every entry to a tenant, so collisions across tenants are
// impossible by construction.
type cacheKey struct {
	tenantID string
	key      string
}

// node is an entry in the intrusive recency list. head side is most
// recently used, tail side is next to evict.
type node struct {
	key       cacheKey
	value     []byte
	expiresAt time.Time
	prev      *node
	next      *node
}

type counter struct {
	n         int64
	expiresAt time.Time
}

// LRUCache is a thread-safe in-process cache with per-entry TTL, least
// recently used eviction, and windowed counters. It is the Community tier
// cache and the L1 of the two-phase cache.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[cacheKey]*node
	head     *node
	tail     *node
	counters map[cacheKey]*counter
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		capacity: maxSize,
		items:    make(map[cacheKey]*node),
		counters: make(map[cacheKey]*counter),
	}
}

// Get retrieves a value. Both a miss and an expired entry return nil with
// no error.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[cacheKey{tenantID, key}]
	if !ok {
		return nil, nil
	}
	if time.Now().After(n.expiresAt) {
		c.unlink(n)
		delete(c.items, n.key)
		return nil, nil
	}

	c.touch(n)
	return n.value, nil
}

// Set stores a value with a TTL, evicting the least recently used entries
// when the cache is full.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	ck := cacheKey{tenantID, key}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[ck]; ok {
		n.value = value
		n.expiresAt = time.Now().Add(ttl)
		c.touch(n)
		return nil
	}

	n := &node{key: ck, value: value, expiresAt: time.Now().Add(ttl)}
	c.items[ck] = n
	c.pushFront(n)

	for len(c.items) > c.capacity {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.items, oldest.key)
	}
	return nil
}

// Delete removes an entry. Deleting a missing key is not an error.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[cacheKey{tenantID, key}]; ok {
		c.unlink(n)
		delete(c.items, n.key)
	}
	return nil
}

// GetSummary retrieves a cached value tier summary for a run.
func (c *LRUCache) GetSummary(ctx context.Context, tenantID string, runID string) ([]domain.CLVSummaryRow, error) {
	data, err := c.Get(ctx, tenantID, "summary:"+runID)
	if err != nil || data == nil {
		return nil, err
	}

	var rows []domain.CLVSummaryRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SetSummary caches a run's value tier summary.
func (c *LRUCache) SetSummary(ctx context.Context, tenantID string, runID string, rows []domain.CLVSummaryRow, ttl time.Duration) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, "summary:"+runID, data, ttl)
}

// IncrementCounter bumps a windowed counter and returns the new count. A
// counter whose window has elapsed restarts at 1.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	ck := cacheKey{tenantID, "counter:" + key}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, ok := c.counters[ck]; ok && now.Before(entry.expiresAt) {
		entry.n++
		return entry.n, nil
	}

	c.counters[ck] = &counter{n: 1, expiresAt: now.Add(window)}
	return 1, nil
}

// Ping reports cache health; the in-process cache is always healthy.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[cacheKey]*node)
	c.counters = make(map[cacheKey]*counter)
	c.head = nil
	c.tail = nil
	return nil
}

// Stats returns the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items), c.capacity
}

func (c *LRUCache) pushFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *LRUCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *LRUCache) touch(n *node) {
	if c.head == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}
