// ABOUTME: In-memory render cache that wraps a Markdown rendering function with sha256-keyed caching.
// ABOUTME: Supports TTL-based expiry, concurrent access, and manual cache clearing.
package render

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// RenderFunc is the signature for a Markdown rendering function that the cache wraps.
type RenderFunc func(source string, width int) string

var _ RenderFunc = Markdown

// cacheEntry holds a single cached render result with its creation timestamp.
type cacheEntry struct {
	text      string
	createdAt time.Time
}

// Cache wraps a Markdown rendering function with an in-memory cache. A chat
// transcript re-renders the same messages at the same width on every frame,
// so keys are derived from the sha256 hash of the source combined with the
// wrap width. Entries expire after the configured TTL.
type Cache struct {
	renderFn RenderFunc
	ttl      time.Duration
	entries  map[string]*cacheEntry
	mu       sync.RWMutex
}

// NewCache creates a Cache wrapping the given rendering function.
// Cached entries expire after the specified TTL duration.
func NewCache(renderFn RenderFunc, ttl time.Duration) *Cache {
	return &Cache{
		renderFn: renderFn,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
	}
}

// Render renders source wrapped to width, returning cached results when
// available and not expired.
func (c *Cache) Render(source string, width int) string {
	key := cacheKey(source, width)

	// Check cache under read lock
	c.mu.RLock()
	if entry, ok := c.entries[key]; ok {
		if time.Since(entry.createdAt) < c.ttl {
			text := entry.text
			c.mu.RUnlock()
			return text
		}
	}
	c.mu.RUnlock()

	// Cache miss or expired: render
	text := c.renderFn(source, width)

	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		text:      text,
		createdAt: time.Now(),
	}
	c.mu.Unlock()

	return text
}

// Len returns the number of entries currently in the cache (including expired ones).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries from the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// cacheKey generates a deterministic cache key from Markdown source and wrap width.
func cacheKey(source string, width int) string {
	return fmt.Sprintf("%x:%d", sha256.Sum256([]byte(source)), width)
}
