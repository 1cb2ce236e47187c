package discount

import (
	"sync"
	"time"
)

// conditionCache is a small bounded cache for condition entities.
// Conditions mutate rarely, so serving a stale entry within the TTL
// is acceptable. When full, the entry closest to expiry is evicted.
type conditionCache struct {
	mu      sync.Mutex
	entries map[string]condCacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type condCacheEntry struct {
	cond      *Condition
	expiresAt time.Time
}

func newConditionCache(maxSize int, ttl time.Duration) *conditionCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &conditionCache{
		entries: map[string]condCacheEntry{},
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *conditionCache) get(key string) (*Condition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.cond, true
}

func (c *conditionCache) put(key string, cond *Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = condCacheEntry{cond: cond, expiresAt: c.now().Add(c.ttl)}
}

func (c *conditionCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *conditionCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
