package certs

import (
	"container/list"
	"crypto/tls"
	"sync"
)

// leafCache is a thread-safe LRU cache of leaf certificates keyed by host.
type leafCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
}

type leafEntry struct {
	host string
	cert *tls.Certificate
}

func newLeafCache(maxSize int) *leafCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &leafCache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

func (c *leafCache) get(host string) (*tls.Certificate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[host]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*leafEntry).cert, true
}

func (c *leafCache) set(host string, cert *tls.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[host]; ok {
		elem.Value.(*leafEntry).cert = cert
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*leafEntry).host)
			c.order.Remove(oldest)
		}
	}
	c.items[host] = c.order.PushFront(&leafEntry{host: host, cert: cert})
}

func (c *leafCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
