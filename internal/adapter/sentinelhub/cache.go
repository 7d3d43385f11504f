package sentinelhub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cityclimate/rasterflow/internal/domain"
)

// CatalogSearcher is the catalog query surface the cache decorates.
type CatalogSearcher interface {
	Search(ctx context.Context, bbox domain.BBox, from, to time.Time, maxCloudCover int, collection string) ([]string, error)
}

// CachedCatalog wraps a catalog searcher with an in-memory LRU cache. The
// same bbox/window/cloud query is issued by every workflow in a run, so one
// network round trip serves them all.
type CachedCatalog struct {
	inner   CatalogSearcher
	cache   *lruCache
	lookups *prometheus.CounterVec
}

// NewCachedCatalog creates a cache decorator around a catalog searcher.
// lookups counts hits and misses and may be nil.
func NewCachedCatalog(inner CatalogSearcher, maxEntries int, lookups *prometheus.CounterVec) *CachedCatalog {
	return &CachedCatalog{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		lookups: lookups,
	}
}

func (c *CachedCatalog) Search(ctx context.Context, bbox domain.BBox, from, to time.Time, maxCloudCover int, collection string) ([]string, error) {
	key := fmt.Sprintf("%s|%.6f,%.6f,%.6f,%.6f|%d|%d|%d",
		collection, bbox.MinLon, bbox.MinLat, bbox.MaxLon, bbox.MaxLat,
		from.Unix(), to.Unix(), maxCloudCover)
	if dates, ok := c.cache.get(key); ok {
		c.count("hit")
		return dates, nil
	}
	c.count("miss")
	dates, err := c.inner.Search(ctx, bbox, from, to, maxCloudCover, collection)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty results so an unlucky early query can be retried
	// later in the run.
	if len(dates) > 0 {
		c.cache.put(key, dates)
	}
	return dates, nil
}

func (c *CachedCatalog) count(result string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(result).Inc()
	}
}

// lruCache is a simple thread-safe LRU cache for date lists.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value []string
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
