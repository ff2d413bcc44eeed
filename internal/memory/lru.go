package memory

import "container/list"

// lruCache is a bounded most-recently-used cache sitting in front of the
// per-namespace entry map for hot read paths. Not safe for concurrent use;
// the owning namespace serializes access.
type lruCache struct {
	cap   int
	order *list.List
	items map[string]*list.Element
}

type lruItem struct {
	key   string
	entry Entry
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// get returns the cached entry and promotes it to most recently used.
func (c *lruCache) get(key string) (Entry, bool) {
	el, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem).entry, true
}

// put inserts or refreshes an entry, evicting the least recently used
// entry when over capacity.
func (c *lruCache) put(key string, entry Entry) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruItem).entry = entry
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&lruItem{key: key, entry: entry})
	c.items[key] = el

	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruItem).key)
		}
	}
}

// invalidate drops a key from the cache. Called on every write to the key.
func (c *lruCache) invalidate(key string) {
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *lruCache) len() int {
	return c.order.Len()
}
