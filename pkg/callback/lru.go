package callback

import "container/list"

// boundedMap is an insertion-ordered map with a fixed capacity. Adding to a
// full map evicts the oldest entry. It is not safe for concurrent use; the
// Registry guards it.
type boundedMap[V any] struct {
	items   map[string]*list.Element
	order   *list.List // front = newest
	maxSize int
}

type boundedEntry[V any] struct {
	key   string
	value V
}

func newBoundedMap[V any](maxSize int) *boundedMap[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &boundedMap[V]{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// get does not change the eviction order, so it may run under a read lock.
func (m *boundedMap[V]) get(key string) (V, bool) {
	elem, ok := m.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*boundedEntry[V]).value, true
}

// put stores value under key. Replacing an existing key returns the old
// value as evicted. When the map is full the oldest entry is evicted.
func (m *boundedMap[V]) put(key string, value V) (evicted []boundedEntry[V]) {
	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*boundedEntry[V])
		evicted = append(evicted, *entry)
		entry.value = value
		m.order.MoveToFront(elem)
		return evicted
	}
	for m.order.Len() >= m.maxSize {
		oldest := m.order.Back()
		entry := oldest.Value.(*boundedEntry[V])
		delete(m.items, entry.key)
		m.order.Remove(oldest)
		evicted = append(evicted, *entry)
	}
	m.items[key] = m.order.PushFront(&boundedEntry[V]{key: key, value: value})
	return evicted
}

func (m *boundedMap[V]) remove(key string) (V, bool) {
	elem, ok := m.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(m.items, key)
	m.order.Remove(elem)
	return elem.Value.(*boundedEntry[V]).value, true
}

func (m *boundedMap[V]) len() int {
	return m.order.Len()
}

// values returns entries oldest first.
func (m *boundedMap[V]) values() []V {
	out := make([]V, 0, m.order.Len())
	for e := m.order.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(*boundedEntry[V]).value)
	}
	return out
}
