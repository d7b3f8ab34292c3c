// Package cache provides an in-memory TTL cache of completed analysis runs.
package cache

import (
	"strings"
	"sync"
	"time"

	"emolens/internal/usecases"
)

// MemoryCache is an in-memory analysis cache with TTL support.
type MemoryCache struct {
	entries sync.Map
	ttl     time.Duration
}

// cacheEntry holds a cached analysis with expiration metadata.
type cacheEntry struct {
	output    *usecases.AnalyzeOutput
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache with the specified TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cache := &MemoryCache{ttl: ttl}
	go cache.cleanup()
	return cache
}

// NormalizedKey canonicalizes a post URL for cache lookups.
func NormalizedKey(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// Get retrieves a cached analysis. Returns the output and true if found and
// not expired, otherwise nil and false.
func (c *MemoryCache) Get(url string) (*usecases.AnalyzeOutput, bool) {
	key := NormalizedKey(url)
	value, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}

	entry := value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.entries.Delete(key)
		return nil, false
	}

	return entry.output, true
}

// Set stores an analysis in the cache with the configured TTL.
func (c *MemoryCache) Set(url string, output *usecases.AnalyzeOutput) {
	c.entries.Store(NormalizedKey(url), &cacheEntry{
		output:    output,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// cleanup periodically removes expired entries from the cache.
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	for range ticker.C {
		now := time.Now()
		c.entries.Range(func(key, value interface{}) bool {
			entry := value.(*cacheEntry)
			if now.After(entry.expiresAt) {
				c.entries.Delete(key)
			}
			return true
		})
	}
}
