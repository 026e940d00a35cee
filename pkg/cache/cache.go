package cache

import (
	"strings"
	"sync"
	"time"
)

// Item is a cached value with an optional expiration.
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired reports whether the item has expired. Items without an
// expiration never do.
func (item *Item[V]) IsExpired() bool {
	return !item.ExpiresAt.IsZero() && time.Now().After(item.ExpiresAt)
}

// Cache is a thread-safe in-memory map with per-item TTL. A zero TTL keeps an
// item until it is deleted.
type Cache[V any] struct {
	items      map[string]*Item[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
	onEvict    func(key string, value V)

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type Option[V any] func(*Cache[V])

// WithEvictCallback is called for every item removed because it expired.
func WithEvictCallback[V any](fn func(key string, value V)) Option[V] {
	return func(c *Cache[V]) { c.onEvict = fn }
}

// New creates a cache. When cleanupInterval is positive a background goroutine
// removes expired items until Stop is called.
func New[V any](defaultTTL, cleanupInterval time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		items:       make(map[string]*Item[V]),
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanupInterval > 0 {
		go c.cleanup(cleanupInterval)
	}
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, exists := c.items[key]
	if !exists || item.IsExpired() {
		return zero, false
	}
	return item.Value, true
}

// Set stores a value with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	item := &Item[V]{Value: value, CreatedAt: now}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}
	c.items[key] = item
}

// Delete removes a key and reports whether it was present and unexpired.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	delete(c.items, key)
	return ok && !item.IsExpired()
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*Item[V])
}

// Invalidate removes every key with the given prefix, or every expired item
// when prefix is empty.
func (c *Cache[V]) Invalidate(prefix string) {
	c.mu.Lock()
	var evicted map[string]V
	for key, item := range c.items {
		switch {
		case prefix == "" && item.IsExpired():
			if evicted == nil {
				evicted = make(map[string]V)
			}
			evicted[key] = item.Value
			delete(c.items, key)
		case prefix != "" && strings.HasPrefix(key, prefix):
			delete(c.items, key)
		}
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for key, value := range evicted {
			onEvict(key, value)
		}
	}
}

func (c *Cache[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Invalidate("")
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

// Size returns the number of stored items, expired ones included.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

type Stats struct {
	Size      int
	Expired   int
	TotalKeys int
}

func (c *Cache[V]) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalKeys: len(c.items)}
	for _, item := range c.items {
		if item.IsExpired() {
			stats.Expired++
		}
	}
	stats.Size = stats.TotalKeys - stats.Expired
	return stats
}
