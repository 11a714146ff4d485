// Package featurecache memoizes image embeddings by URL.
package featurecache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"reportdedup/metrics"
	"reportdedup/similarity"
)

// Stats describes the cache contents
type Stats struct {
	Count       int `json:"count"`
	ApproxBytes int `json:"approx_bytes"`
}

// Cache maps an image URL to its embedding. It is safe for concurrent use.
//
// With maxEntries == 0 the cache is unbounded and entries live until Clear.
// With maxEntries > 0 the least recently used entry is evicted once full.
// Concurrent misses on the same URL may both Put; the last write wins.
type Cache struct {
	mu      sync.Mutex
	entries map[string]similarity.Embedding
	bounded *lru.Cache[string, similarity.Embedding]
	bytes   int
	metrics *metrics.Metrics
}

// New creates a cache. maxEntries <= 0 means unbounded.
func New(maxEntries int, m *metrics.Metrics) (*Cache, error) {
	c := &Cache{metrics: m}
	if maxEntries <= 0 {
		c.entries = make(map[string]similarity.Embedding)
		return c, nil
	}

	bounded, err := lru.NewWithEvict[string, similarity.Embedding](maxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create bounded feature cache: %w", err)
	}
	c.bounded = bounded
	return c, nil
}

// onEvict runs under c.mu, called from inside the lru
func (c *Cache) onEvict(_ string, emb similarity.Embedding) {
	c.bytes -= emb.SizeBytes()
}

// Get returns the embedding for url, if present
func (c *Cache) Get(url string) (similarity.Embedding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var emb similarity.Embedding
	var ok bool
	if c.bounded != nil {
		emb, ok = c.bounded.Get(url)
	} else {
		emb, ok = c.entries[url]
	}
	c.metrics.CacheLookup(ok)
	return emb, ok
}

// Put stores emb under url, replacing any existing entry
func (c *Cache) Put(url string, emb similarity.Embedding) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bounded != nil {
		if old, ok := c.bounded.Peek(url); ok {
			c.bytes -= old.SizeBytes()
		}
		c.bytes += emb.SizeBytes()
		c.bounded.Add(url, emb)
		c.metrics.SetCacheEntries(c.bounded.Len())
		return
	}

	if old, ok := c.entries[url]; ok {
		c.bytes -= old.SizeBytes()
	}
	c.entries[url] = emb
	c.bytes += emb.SizeBytes()
	c.metrics.SetCacheEntries(len(c.entries))
}

// Clear drops every entry.
// Embeddings are plain Go slices; the native buffers they were copied from were
// released at extraction time, so dropping the references frees everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bounded != nil {
		c.bounded.Purge()
	} else {
		c.entries = make(map[string]similarity.Embedding)
	}
	c.bytes = 0
	c.metrics.SetCacheEntries(0)
}

// Stats returns entry count and approximate memory held
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	if c.bounded != nil {
		count = c.bounded.Len()
	}
	return Stats{Count: count, ApproxBytes: c.bytes}
}
