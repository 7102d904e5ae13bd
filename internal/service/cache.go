// Package service holds the in-process singletons behind the analysis
// surface: the result cache, the conversation store, the alert hub, the
// anomaly detector, and the streaming facade over the workflow engine.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	payload     map[string]any
	createdAt   time.Time
	accessCount int
}

// ResultCache is a concurrent-safe TTL cache keyed by question identity.
// When full, the entry with the lowest access count is evicted.
type ResultCache struct {
	mu              sync.Mutex
	entries         map[string]*cacheEntry
	ttl             time.Duration
	maxSize         int
	lastInvalidated time.Time
}

// NewResultCache builds a cache with the given TTL and capacity.
func NewResultCache(ttl time.Duration, maxSize int) *ResultCache {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ResultCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Key derives the deterministic cache key for a question.
func (c *ResultCache) Key(question string, maxResults int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d", question, maxResults))
	return hex.EncodeToString(sum[:])
}

// Get returns a valid entry's payload, deleting it on expiry.
func (c *ResultCache) Get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	e.accessCount++
	return e.payload, true
}

// Set stores a payload, evicting the least-accessed entry when full.
func (c *ResultCache) Set(key string, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		var victim string
		lowest := -1
		for k, e := range c.entries {
			if lowest == -1 || e.accessCount < lowest {
				lowest = e.accessCount
				victim = k
			}
		}
		delete(c.entries, victim)
	}
	c.entries[key] = &cacheEntry{payload: payload, createdAt: time.Now()}
}

// InvalidateAll clears the cache and records the invalidation time.
func (c *ResultCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.lastInvalidated = time.Now()
}

// Stats reports current size and the last invalidation time.
func (c *ResultCache) Stats() (size int, lastInvalidated time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.lastInvalidated
}
