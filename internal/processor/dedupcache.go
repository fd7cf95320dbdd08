package processor

import (
	"container/list"
	"sync"
	"time"
)

// DedupCache is an in-memory cooldown cache fronting the transactional
// alert dedup check. It is an optimization only: a miss always falls
// through to the authoritative transaction, and entries are written only
// after a successful create so an admin-resolved alert can fire again
// immediately.
type DedupCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time
}

type cacheEntry struct {
	key   string
	setAt time.Time
}

// NewDedupCache creates a cache with the given cooldown TTL and bounded
// capacity. Exceeding capacity evicts the least recently used entry.
func NewDedupCache(ttl time.Duration, capacity int) *DedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &DedupCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Probe reports whether the key is inside its cooldown window. Expired
// entries are removed on probe.
func (c *DedupCache) Probe(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.setAt) >= c.ttl {
		c.order.Remove(elem)
		delete(c.entries, key)
		return false
	}
	c.order.MoveToFront(elem)
	return true
}

// Set records the key at the current time, evicting the least recently
// used entry when the cache is full.
func (c *DedupCache) Set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).setAt = c.now()
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	elem := c.order.PushFront(&cacheEntry{key: key, setAt: c.now()})
	c.entries[key] = elem
}

// Len returns the number of stored entries, including expired ones that no
// probe has removed yet.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
