// Package resultcache caches executed query results and runs long
// aggregations as background jobs. Cache keys are content hashes of the
// canonical query spec, so identical specs share an entry regardless of who
// submitted them.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Hash derives a cache key from a query spec. The spec is serialized through
// encoding/json, which orders object keys, so field order in the caller's
// input does not change the key.
func Hash(spec any) (string, error) {
	encoded, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("canonicalizing query spec: %w", err)
	}
	return framedSHA256("queryspec", string(encoded)), nil
}

func framedSHA256(parts ...string) string {
	hash := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL'd in-memory result store. Expired entries are evicted
// lazily when read.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for id, if present and unexpired.
func (c *Cache) Get(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}
	return e.value, true
}

// Put stores value under id for ttl. A non-positive ttl stores nothing.
func (c *Cache) Put(id string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

// Len reports the number of stored entries, including any not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
