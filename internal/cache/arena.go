package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/inkdex/internal/resource"
)

// Stats reports arena usage.
type Stats struct {
	Entries int
	Bytes   int64
	Hits    int64
	Misses  int64
}

type entry[K comparable, V any] struct {
	key     K
	value   V
	charged int64
}

// Arena is a recency-ordered map with memory accounting.
type Arena[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List
	rc       *resource.Controller
	sizeOf   func(V) int64
	bytes    int64
	pressure bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewArena creates an arena. sizeOf estimates the footprint of a value and
// may be nil when accounting is not wanted.
func NewArena[K comparable, V any](rc *resource.Controller, sizeOf func(V) int64) *Arena[K, V] {
	return &Arena[K, V]{
		items:  make(map[K]*list.Element),
		order:  list.New(),
		rc:     rc,
		sizeOf: sizeOf,
	}
}

// Get returns the cached value and marks it most recently used.
func (a *Arena[K, V]) Get(key K) (V, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.items[key]; ok {
		a.hits.Add(1)
		a.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}

	a.misses.Add(1)
	var zero V
	return zero, false
}

// Put inserts or replaces a value.
func (a *Arena[K, V]) Put(key K, value V) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.items[key]; ok {
		a.order.MoveToFront(el)
		e := el.Value.(*entry[K, V])
		a.release(e)
		e.value = value
		a.charge(e)
		return
	}

	e := &entry[K, V]{key: key, value: value}
	a.charge(e)
	a.items[key] = a.order.PushFront(e)
}

// GetOrPut returns the cached value for key or stores the one made by load.
// load runs under the arena lock and must not call back into the arena.
func (a *Arena[K, V]) GetOrPut(key K, load func() (V, error)) (V, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.items[key]; ok {
		a.hits.Add(1)
		a.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, nil
	}
	a.misses.Add(1)

	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}

	e := &entry[K, V]{key: key, value: v}
	a.charge(e)
	a.items[key] = a.order.PushFront(e)
	return v, nil
}

// Delete removes key.
func (a *Arena[K, V]) Delete(key K) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.items[key]; ok {
		a.remove(el)
	}
}

// Len returns the number of entries.
func (a *Arena[K, V]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Snapshot returns a copy of the current entries.
func (a *Arena[K, V]) Snapshot() map[K]V {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[K]V, len(a.items))
	for k, el := range a.items {
		out[k] = el.Value.(*entry[K, V]).value
	}
	return out
}

// EvictIf removes the entries for which evict returns true, least recently used
// first, and returns how many were removed.
func (a *Arena[K, V]) EvictIf(evict func(K, V) bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for el := a.order.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[K, V])
		if evict(e.key, e.value) {
			a.remove(el)
			n++
		}
		el = prev
	}
	a.pressure = false
	return n
}

// Clear drops every entry.
func (a *Arena[K, V]) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for el := a.order.Front(); el != nil; el = a.order.Front() {
		a.remove(el)
	}
	a.pressure = false
}

// UnderPressure reports whether a memory charge was refused since the last
// eviction pass.
func (a *Arena[K, V]) UnderPressure() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pressure
}

// Stats returns usage counters.
func (a *Arena[K, V]) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Entries: len(a.items),
		Bytes:   a.bytes,
		Hits:    a.hits.Load(),
		Misses:  a.misses.Load(),
	}
}

func (a *Arena[K, V]) charge(e *entry[K, V]) {
	if a.sizeOf == nil {
		return
	}
	n := a.sizeOf(e.value)
	if !a.rc.TryAcquireMemory(n) {
		a.pressure = true
		return
	}
	e.charged = n
	a.bytes += n
}

func (a *Arena[K, V]) release(e *entry[K, V]) {
	a.rc.ReleaseMemory(e.charged)
	a.bytes -= e.charged
	e.charged = 0
}

func (a *Arena[K, V]) remove(el *list.Element) {
	e := a.order.Remove(el).(*entry[K, V])
	a.release(e)
	delete(a.items, e.key)
}
