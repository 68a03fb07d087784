package state

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds the TTL cache's backing LRU so an unbounded
// stream of distinct keys cannot grow it forever between sweeps.
const defaultCacheSize = 4096

type ttlEntry struct {
	value  any
	expiry time.Time
}

// TTLCache is an LRU cache wrapped with an expiry timestamp per entry —
// the idiomatic way to turn an LRU-only library into a TTL cache: golang-lru
// bounds size, this wrapper bounds age.
type TTLCache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, ttlEntry]
	defaultTTL time.Duration
}

// NewTTLCache returns a cache using defaultTTL when Set is called without an
// explicit TTL.
func NewTTLCache(defaultTTL time.Duration) *TTLCache {
	c, err := lru.New[string, ttlEntry](defaultCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultCacheSize never is.
		panic(err)
	}
	return &TTLCache{lru: c, defaultTTL: defaultTTL}
}

// Get returns the cached value for key, or (nil, false) if absent or
// expired. An expired entry is evicted on read.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiry) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given ttl, or the cache's default TTL
// when ttl is zero.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, ttlEntry{value: value, expiry: time.Now().Add(ttl)})
}

// Delete removes key unconditionally.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear empties the cache.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Cleanup evicts every currently-expired entry. Called by the background
// sweeper on its fixed cadence.
func (c *TTLCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && now.After(e.expiry) {
			c.lru.Remove(key)
		}
	}
}
