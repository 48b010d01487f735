// Package cache holds recently deserialized pages keyed by their data-file
// offset. Persisted pages are immutable, so an entry can never go stale;
// eviction only costs a re-read.
package cache

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"sirixdb/internal/page"
)

// MinCapacity keeps enough room for a trie path plus a few record pages.
const MinCapacity = 64

// PageCache is a bounded concurrent LRU shared by all transactions of a
// resource.
type PageCache struct {
	lru *freelru.SyncedLRU[int64, page.Page]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func hashOffset(offset int64) uint32 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(offset))
	return uint32(xxhash.Sum64(b[:]))
}

// New returns a cache bounded to capacity pages.
func New(capacity uint32) (*PageCache, error) {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	lru, err := freelru.NewSynced[int64, page.Page](capacity, hashOffset)
	if err != nil {
		return nil, err
	}
	return &PageCache{lru: lru}, nil
}

// Get returns the page cached under the given file offset.
func (c *PageCache) Get(offset int64) (page.Page, bool) {
	p, ok := c.lru.Get(offset)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return p, ok
}

// Put caches a page under its file offset.
func (c *PageCache) Put(offset int64, p page.Page) {
	c.lru.Add(offset, p)
}

// Remove drops a single entry.
func (c *PageCache) Remove(offset int64) {
	c.lru.Remove(offset)
}

// Purge empties the cache.
func (c *PageCache) Purge() {
	c.lru.Purge()
}

// Stats returns hit and miss counts.
func (c *PageCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
