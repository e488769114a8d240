// Package yearcache bounds the per-region, per-year day/hour series each
// range loader accumulates. It is built on hashicorp/golang-lru/v2
// instead of a hand-rolled FIFO map: capacity eviction is the library's
// job, not ours. Switching to a different region still clears every
// cached year, since query locality in this engine is by region.
package yearcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds, per year, the accumulated series fetched so far for the
// currently active region.
type Cache[T any] struct {
	mu         sync.Mutex
	maxEntries int
	region     string
	lru        *lru.Cache[int, map[string]T]
}

// New builds a Cache bounded to maxEntries distinct years.
func New[T any](maxEntries int) *Cache[T] {
	if maxEntries <= 0 {
		maxEntries = 6
	}
	c, _ := lru.New[int, map[string]T](maxEntries)
	return &Cache[T]{maxEntries: maxEntries, lru: c}
}

// resetIfRegionChanged purges every cached year when regionID differs
// from the region the cache currently holds data for. Must be called
// with mu held.
func (c *Cache[T]) resetIfRegionChanged(regionID string) {
	if c.region != regionID {
		c.lru.Purge()
		c.region = regionID
	}
}

// Days returns the accumulated keyed entries (by date/hour-key) for
// region+year, or nil if nothing has been fetched yet or the cache
// currently holds another region. Reads never purge; the switch to a new
// region (and the purge) happens on Merge.
func (c *Cache[T]) Days(regionID string, year int) map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region != regionID {
		return nil
	}
	m, ok := c.lru.Get(year)
	if !ok {
		return nil
	}
	return m
}

// Merge folds newEntries into the year's accumulated map, creating the
// entry if this is the first time the year is seen. Beyond capacity the
// least recently used year is evicted (both Days and Merge count as a
// use), not the first one inserted.
func (c *Cache[T]) Merge(regionID string, year int, newEntries map[string]T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfRegionChanged(regionID)

	m, ok := c.lru.Get(year)
	if !ok || m == nil {
		m = make(map[string]T, len(newEntries))
	}
	for k, v := range newEntries {
		m[k] = v
	}
	c.lru.Add(year, m)
}
