// Package cache holds the two-tier result cache in front of
// Timeline.GetPageAtLSN: a small Tier-1 LRU (PageCache) and a larger
// Tier-2 RAM cache (LFCCache), both keyed by the exact (tag, lsn) pair
// a redo was requested for. Because a given (tag, lsn) pair's
// reconstructed image never changes once computed, an exact cache key
// match is always safe to serve — unlike a "latest version <= lsn"
// cache, which would be correct only for present-time reads.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

// entry holds one cached reconstructed page image.
type entry struct {
	data       []byte
	lastAccess time.Time
}

// PageCache is a small Tier-1 LRU cache of exact (tag, lsn) redo
// results.
type PageCache struct {
	mu         sync.RWMutex
	cache      map[string]*entry
	maxSize    int
	evictCount int
}

// NewPageCache creates a PageCache holding at most maxSize entries.
func NewPageCache(maxSize int) *PageCache {
	return &PageCache{cache: make(map[string]*entry), maxSize: maxSize}
}

func cacheKey(tag keycodec.BufferTag, lsn keycodec.Lsn) string {
	return fmt.Sprintf("%d/%d/%d/%d/%d@%d", tag.Rel.Fork, tag.Rel.Tablespace, tag.Rel.Database, tag.Rel.Relation, tag.Block, lsn)
}

// Get returns the cached image for (tag, lsn), if present.
func (pc *PageCache) Get(tag keycodec.BufferTag, lsn keycodec.Lsn) ([]byte, bool) {
	key := cacheKey(tag, lsn)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	e, ok := pc.cache[key]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	return append([]byte(nil), e.data...), true
}

// Put stores the reconstructed image for (tag, lsn), evicting the
// least recently used entry if the cache is full.
func (pc *PageCache) Put(tag keycodec.BufferTag, lsn keycodec.Lsn, data []byte) {
	key := cacheKey(tag, lsn)

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if _, exists := pc.cache[key]; !exists && len(pc.cache) >= pc.maxSize {
		pc.evictLRU()
	}
	pc.cache[key] = &entry{data: append([]byte(nil), data...), lastAccess: time.Now()}
}

func (pc *PageCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	for key, e := range pc.cache {
		if oldestKey == "" || e.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(pc.cache, oldestKey)
		pc.evictCount++
	}
}

// Stats reports cache occupancy for the metrics endpoint.
func (pc *PageCache) Stats() map[string]interface{} {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return map[string]interface{}{
		"size":        len(pc.cache),
		"max_size":    pc.maxSize,
		"evict_count": pc.evictCount,
	}
}

// Clear empties the cache.
func (pc *PageCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache = make(map[string]*entry)
}
