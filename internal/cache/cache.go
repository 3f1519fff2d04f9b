package cache

// Package cache memoizes detection results.
//
// Detectors are pure, so a result depends only on the series and the options
// it was computed with. Entries are keyed by a SHA-256 over both and expire
// after a fixed TTL; the least recently used entry is evicted once the cache
// is full.
//
// Key Strategy:
//   - Operation name + JSON of every input -> SHA-256 hex
//   - Hash keeps keys fixed-size regardless of series length
//
// Invalidation:
//   - TTL expiration (automatic)
//   - Purge on detection defaults reload, since cached results were computed
//     with the old defaults

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kubilitics/kubilitics-anomaly/internal/metrics"
)

// Cache is a size-bounded TTL cache. It is safe for concurrent use.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New creates a cache holding at most size entries for ttl each.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Get returns the cached value for key and records a hit or miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	}
	return v, ok
}

// Set stores value under key, evicting the oldest entry if full.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Key hashes op and the JSON encoding of parts into a fixed-size key.
func Key(op string, parts ...any) (string, error) {
	h := sha256.New()
	h.Write([]byte(op))
	for _, p := range parts {
		b, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("cache key for %s: %w", op, err)
		}
		h.Write([]byte{0})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
