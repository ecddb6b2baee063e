package cache

import (
	"sync"
	"time"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

// LFCCache is a larger Tier-2 RAM cache of exact (tag, lsn) redo
// results, sized in bytes rather than entry count, sitting behind
// PageCache and in front of a re-derivation through GetPageAtLSN.
type LFCCache struct {
	mu sync.RWMutex

	cache       map[string]*lfcEntry
	maxSize     int64
	maxEntries  int
	currentSize int64

	hits, misses, evictions int64
}

type lfcEntry struct {
	data        []byte
	size        int64
	lastAccess  time.Time
	accessCount int64
}

// avgPageSize is used only to translate a byte budget into an
// estimated entry-count ceiling; an 8 KiB Postgres page dominates the
// size of any cached entry.
const avgPageSize = int64(8192)

// NewLFCCache creates an LFCCache bounded by maxSizeBytes.
func NewLFCCache(maxSizeBytes int64) *LFCCache {
	maxEntries := int(maxSizeBytes / avgPageSize)
	if maxEntries < 100 {
		maxEntries = 100
	}
	return &LFCCache{
		cache:      make(map[string]*lfcEntry),
		maxSize:    maxSizeBytes,
		maxEntries: maxEntries,
	}
}

// Get returns the cached image for (tag, lsn), if present.
func (lfc *LFCCache) Get(tag keycodec.BufferTag, lsn keycodec.Lsn) ([]byte, bool) {
	key := cacheKey(tag, lsn)

	lfc.mu.Lock()
	defer lfc.mu.Unlock()

	e, ok := lfc.cache[key]
	if !ok {
		lfc.misses++
		return nil, false
	}
	e.lastAccess = time.Now()
	e.accessCount++
	lfc.hits++
	return append([]byte(nil), e.data...), true
}

// Put stores the reconstructed image for (tag, lsn), evicting entries
// until the new one fits within the byte/entry budget.
func (lfc *LFCCache) Put(tag keycodec.BufferTag, lsn keycodec.Lsn, data []byte) {
	key := cacheKey(tag, lsn)
	size := int64(len(data))

	lfc.mu.Lock()
	defer lfc.mu.Unlock()

	if existing, exists := lfc.cache[key]; exists {
		lfc.currentSize -= existing.size
		existing.data = append([]byte(nil), data...)
		existing.size = size
		existing.lastAccess = time.Now()
		existing.accessCount++
		lfc.currentSize += size
		return
	}

	for lfc.currentSize+size > lfc.maxSize || len(lfc.cache) >= lfc.maxEntries {
		if !lfc.evictLRU() {
			break
		}
	}
	if lfc.currentSize+size > lfc.maxSize {
		return
	}

	lfc.cache[key] = &lfcEntry{data: append([]byte(nil), data...), size: size, lastAccess: time.Now(), accessCount: 1}
	lfc.currentSize += size
}

func (lfc *LFCCache) evictLRU() bool {
	if len(lfc.cache) == 0 {
		return false
	}
	var oldestKey string
	var oldestTime time.Time
	for key, e := range lfc.cache {
		if oldestKey == "" || e.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastAccess
		}
	}
	e := lfc.cache[oldestKey]
	lfc.currentSize -= e.size
	delete(lfc.cache, oldestKey)
	lfc.evictions++
	return true
}

// Stats reports cache occupancy and hit rate for the metrics endpoint.
func (lfc *LFCCache) Stats() map[string]interface{} {
	lfc.mu.RLock()
	defer lfc.mu.RUnlock()
	total := lfc.hits + lfc.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(lfc.hits) / float64(total) * 100.0
	}
	return map[string]interface{}{
		"size_bytes":     lfc.currentSize,
		"max_size_bytes": lfc.maxSize,
		"size_entries":   len(lfc.cache),
		"max_entries":    lfc.maxEntries,
		"hits":           lfc.hits,
		"misses":         lfc.misses,
		"evictions":      lfc.evictions,
		"hit_rate":       hitRate,
	}
}

// Clear empties the cache.
func (lfc *LFCCache) Clear() {
	lfc.mu.Lock()
	defer lfc.mu.Unlock()
	lfc.cache = make(map[string]*lfcEntry)
	lfc.currentSize = 0
}

// GetSize returns the current occupied size in bytes.
func (lfc *LFCCache) GetSize() int64 {
	lfc.mu.RLock()
	defer lfc.mu.RUnlock()
	return lfc.currentSize
}

// GetMaxSize returns the configured byte budget.
func (lfc *LFCCache) GetMaxSize() int64 {
	return lfc.maxSize
}
