package query

import (
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

type (
	// resultCache is a bounded TTL cache of query results keyed per dataset type.
	//
	// Every dataset type has a generation counter bumped by DatasetWritten. Callers take
	// the generation before reading the store and hand it back to put, which drops the
	// value if a write happened in between, so a slow read can never re-populate the
	// cache with data older than the latest write.
	resultCache struct {
		mu          sync.Mutex
		entries     map[uint64]*cacheEntry
		generations map[dataset.Type]uint64
		ttl         time.Duration
		maxEntries  int
		now         func() time.Time
	}

	cacheEntry struct {
		datasetType dataset.Type
		expires     time.Time
		value       any
	}
)

func newResultCache(ttl time.Duration, maxEntries int, now func() time.Time) *resultCache {
	return &resultCache{
		entries:     make(map[uint64]*cacheEntry),
		generations: make(map[dataset.Type]uint64),
		ttl:         ttl,
		maxEntries:  maxEntries,
		now:         now,
	}
}

// cacheKey hashes the dataset type and the canonical request encoding.
func cacheKey(dt dataset.Type, request []byte) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(string(dt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(request)

	return h.Sum64()
}

func (c *resultCache) generation(dt dataset.Type) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.generations[dt]
}

func (c *resultCache) get(key uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if !c.now().Before(e.expires) {
		delete(c.entries, key)

		return nil, false
	}

	return e.value, true
}

// put stores value unless dt has been written since generation gen was read.
func (c *resultCache) put(dt dataset.Type, gen uint64, key uint64, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generations[dt] != gen {
		return false
	}

	now := c.now()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}

	c.entries[key] = &cacheEntry{datasetType: dt, expires: now.Add(c.ttl), value: value}

	return true
}

// evictLocked removes expired entries, or the entry closest to expiry when none are.
func (c *resultCache) evictLocked(now time.Time) {
	var (
		oldestKey uint64
		oldest    *cacheEntry
	)

	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)

			continue
		}

		if oldest == nil || e.expires.Before(oldest.expires) {
			oldestKey, oldest = k, e
		}
	}

	if len(c.entries) >= c.maxEntries && oldest != nil {
		delete(c.entries, oldestKey)
	}
}

// DatasetWritten implements storage.WriteListener.
func (c *resultCache) DatasetWritten(dt dataset.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[dt]++

	for k, e := range c.entries {
		if e.datasetType == dt {
			delete(c.entries, k)
		}
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
