package behavior

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SizeFunc reports the cache's current capacity. Wiring it to the ledger's
// cache-size knob lets the tuning loop shrink the cache under memory
// pressure; shrinking evicts immediately.
type SizeFunc func() int

// CachedStore fronts a Store with a bounded LRU of profiles, cutting reads
// to the backing store (typically redis) on the hot scoring path. Writes go
// through to the backing store and invalidate the cached entry.
type CachedStore struct {
	backing Store
	size    SizeFunc
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recent

	hits   int64
	misses int64
}

type cacheEntry struct {
	userID  string
	profile Profile
}

// NewCachedStore wraps backing with an LRU sized by size. A nil size keeps
// a fixed capacity of 1000.
func NewCachedStore(backing Store, size SizeFunc, logger *zap.Logger) *CachedStore {
	if size == nil {
		size = func() int { return 1000 }
	}
	return &CachedStore{
		backing: backing,
		size:    size,
		logger:  logger.With(zap.String("component", "behavior_cache")),
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached profile or falls through to the backing store.
func (c *CachedStore) Get(ctx context.Context, userID string) (*Profile, error) {
	c.mu.Lock()
	if el, ok := c.entries[userID]; ok {
		c.order.MoveToFront(el)
		p := el.Value.(*cacheEntry).profile
		c.hits++
		c.mu.Unlock()
		return &p, nil
	}
	c.misses++
	c.mu.Unlock()

	p, err := c.backing.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.put(userID, *p)
	return p, nil
}

// RecordInteraction updates the backing store and refreshes the cached copy
// with the store's new view.
func (c *CachedStore) RecordInteraction(ctx context.Context, userID string, responseTime time.Duration, engaged bool) error {
	if err := c.backing.RecordInteraction(ctx, userID, responseTime, engaged); err != nil {
		return err
	}
	c.invalidate(userID)
	return nil
}

// Close closes the backing store and drops the cache.
func (c *CachedStore) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()
	return c.backing.Close()
}

// Stats returns hit and miss counts.
func (c *CachedStore) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of cached profiles.
func (c *CachedStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachedStore) put(userID string, p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[userID]; ok {
		el.Value.(*cacheEntry).profile = p
		c.order.MoveToFront(el)
	} else {
		c.entries[userID] = c.order.PushFront(&cacheEntry{userID: userID, profile: p})
	}
	c.evictLocked()
}

func (c *CachedStore) invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[userID]; ok {
		c.order.Remove(el)
		delete(c.entries, userID)
	}
}

// evictLocked trims least-recently-used entries down to the current
// capacity. Caller holds c.mu.
func (c *CachedStore) evictLocked() {
	capacity := c.size()
	if capacity < 1 {
		capacity = 1
	}
	for len(c.entries) > capacity {
		back := c.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*cacheEntry)
		c.order.Remove(back)
		delete(c.entries, entry.userID)
	}
}
