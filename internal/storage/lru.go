package storage

import (
	"container/list"
	"sync"
)

// LRUCache is a fixed-capacity Least Recently Used cache keyed by page.
// It is safe for concurrent use.
type LRUCache[V any] struct {
	capacity int
	list     *list.List               // front is most recently used
	entries  map[PageID]*list.Element // for O(1) lookup
	mu       sync.Mutex

	hits   uint64
	misses uint64
}

// lruEntry represents an entry in the LRU cache.
type lruEntry[V any] struct {
	pageID PageID
	value  V
}

// NewLRUCache creates a cache holding at most capacity entries. A capacity
// of zero or less disables caching.
func NewLRUCache[V any](capacity int) *LRUCache[V] {
	return &LRUCache[V]{
		capacity: capacity,
		list:     list.New(),
		entries:  make(map[PageID]*list.Element),
	}
}

// Get returns the cached value for a page and marks it recently used.
func (c *LRUCache[V]) Get(pageID PageID) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[pageID]; ok {
		c.list.MoveToFront(elem)
		c.hits++
		return elem.Value.(*lruEntry[V]).value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// Put inserts or replaces the value for a page, evicting the least recently
// used entry when the cache is full.
func (c *LRUCache[V]) Put(pageID PageID, value V) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[pageID]; ok {
		elem.Value.(*lruEntry[V]).value = value
		c.list.MoveToFront(elem)
		return
	}

	c.entries[pageID] = c.list.PushFront(&lruEntry[V]{pageID: pageID, value: value})
	for c.list.Len() > c.capacity {
		back := c.list.Back()
		c.list.Remove(back)
		delete(c.entries, back.Value.(*lruEntry[V]).pageID)
	}
}

// Remove drops a page from the cache.
func (c *LRUCache[V]) Remove(pageID PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[pageID]; ok {
		c.list.Remove(elem)
		delete(c.entries, pageID)
	}
}

// Purge empties the cache.
func (c *LRUCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.entries = make(map[PageID]*list.Element)
}

// Len returns the number of cached entries.
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRUCache[V]) Capacity() int {
	return c.capacity
}

// Stats returns the hit and miss counters.
func (c *LRUCache[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
