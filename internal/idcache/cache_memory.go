package idcache

import "sync"

// MemoryCache is a simple in-memory identity cache.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]Entry
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]Entry)}
}

// Get retrieves a cached entry by key
func (c *MemoryCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok || e.expired() {
		return Entry{}, false
	}
	return e, true
}

// Set stores an entry in the cache
func (c *MemoryCache) Set(key string, value Entry) {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
}
