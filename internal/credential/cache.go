package credential

import (
	"time"

	"github.com/p-blackswan/credvault/internal/lru"
)

// cacheEntry holds a decrypted token in memory. The plaintext never leaves
// this process and is never logged.
type cacheEntry struct {
	token          string
	expiresAt      time.Time
	lastAccessedAt time.Time
}

// CacheStats is a diagnostic snapshot of the cache contents.
type CacheStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// Cache maps lookup keys to decrypted credentials with lazy expiry:
// an expired entry is purged on the access that observes it, there is no
// background sweep. The LRU capacity bound only limits memory; evicting a
// live entry is safe because a miss falls through to the durable store.
type Cache struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
}

// NewCache creates a cache bounded to capacity entries.
func NewCache(capacity int) *Cache {
	return &Cache{
		entries: lru.New[string, cacheEntry](capacity),
		now:     time.Now,
	}
}

// Get returns the cached token if present and unexpired. A stale entry is
// removed and reported as absent.
func (c *Cache) Get(key string) (string, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	now := c.now()
	if !entry.expiresAt.After(now) {
		c.entries.Delete(key)
		return "", false
	}
	// The access-time touch must happen under the LRU lock: a plain Put
	// here would re-insert an entry a concurrent Remove already deleted.
	touched := c.entries.Update(key, func(e cacheEntry) cacheEntry {
		e.lastAccessedAt = now
		return e
	})
	if !touched {
		return "", false
	}
	return entry.token, true
}

// Put stores a decrypted token, unconditionally overwriting.
func (c *Cache) Put(key, token string, expiresAt time.Time) {
	c.entries.Put(key, cacheEntry{
		token:          token,
		expiresAt:      expiresAt,
		lastAccessedAt: c.now(),
	})
}

// Remove deletes an entry. Idempotent.
func (c *Cache) Remove(key string) {
	c.entries.Delete(key)
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats scans all entries against the current time. O(n); diagnostics only.
func (c *Cache) Stats() CacheStats {
	now := c.now()
	stats := CacheStats{}
	for _, entry := range c.entries.Items() {
		stats.Total++
		if entry.expiresAt.After(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats
}
