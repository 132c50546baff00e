package config

import (
	"sync"
	"time"
)

type cacheEntry struct {
	cfg      *Config
	loadedAt time.Time
}

// Cache memoizes Load results per path with a TTL. A stale entry is
// reloaded on the next Get; a failed reload keeps the error and drops
// the stale value rather than serving it.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached configuration for path, loading it when
// absent or expired.
func (c *Cache) Get(path string) (*Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[path]; ok && c.now().Sub(entry.loadedAt) < c.ttl {
		return entry.cfg, nil
	}

	cfg, err := Load(path)
	if err != nil {
		delete(c.entries, path)
		return nil, err
	}
	c.entries[path] = cacheEntry{cfg: cfg, loadedAt: c.now()}
	return cfg, nil
}

// Invalidate drops the cached entry for path, forcing the next Get to
// reload.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
