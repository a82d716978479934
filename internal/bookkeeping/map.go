// Package bookkeeping implements an ordered map with continuously
// maintained O(1) heap-byte-size queries, a direct port of the Rust
// BookkeepingBTreeMap this repository's chunk store and query cache both
// build on for their sorted chunk-reference and bucket indices.
package bookkeeping

import "github.com/google/btree"

const defaultDegree = 32

type entry[K any, V any] struct {
	key   K
	value V
}

// Map is an ordered map from K to V, backed by a google/btree BTreeG,
// that tracks the combined byte size of every key and value so that
// HeapSizeBytes is O(1) instead of a full scan.
type Map[K any, V any] struct {
	tree      *btree.BTreeG[entry[K, V]]
	less      func(a, b K) bool
	keySize   func(K) int
	valueSize func(V) int
	heapBytes int
}

// New returns an empty Map ordered by less, sizing keys and values with
// keySize/valueSize (pass a func that returns 0 for a fixed-size K or V
// that shouldn't count toward the byte budget).
func New[K any, V any](less func(a, b K) bool, keySize func(K) int, valueSize func(V) int) *Map[K, V] {
	entryLess := func(a, b entry[K, V]) bool { return less(a.key, b.key) }
	return &Map[K, V]{
		tree:      btree.NewG(defaultDegree, entryLess),
		less:      less,
		keySize:   keySize,
		valueSize: valueSize,
	}
}

// IsEmpty reports whether the map holds no entries.
func (m *Map[K, V]) IsEmpty() bool { return m.tree.Len() == 0 }

// Len returns the number of entries.
func (m *Map[K, V]) Len() int { return m.tree.Len() }

// HeapSizeBytes returns the running total of key and value byte sizes.
// O(1): the whole point of this type.
func (m *Map[K, V]) HeapSizeBytes() int { return m.heapBytes }

// Iter calls yield once per entry in ascending key order, stopping early
// if yield returns false.
func (m *Map[K, V]) Iter(yield func(key K, value V) bool) {
	m.tree.Ascend(func(e entry[K, V]) bool {
		return yield(e.key, e.value)
	})
}

// AscendFrom calls yield once per entry with key >= from, in ascending
// key order, stopping early if yield returns false. Used by the query
// cache's "drop every query-time entry at or after the earliest pending
// invalidation" rule, which would otherwise need a full scan from the
// beginning of the map.
func (m *Map[K, V]) AscendFrom(from K, yield func(key K, value V) bool) {
	m.tree.AscendGreaterOrEqual(entry[K, V]{key: from}, func(e entry[K, V]) bool {
		return yield(e.key, e.value)
	})
}

// Get returns the value stored at key, if any.
func (m *Map[K, V]) Get(key K) (V, bool) {
	e, ok := m.tree.Get(entry[K, V]{key: key})
	return e.value, ok
}

// Insert stores value at key, returning the previous value if key was
// already present.
func (m *Map[K, V]) Insert(key K, value V) (V, bool) {
	newKeySize := m.keySize(key)
	newValueSize := m.valueSize(value)

	old, had := m.tree.ReplaceOrInsert(entry[K, V]{key: key, value: value})
	if had {
		m.heapBytes += newValueSize - m.valueSize(old.value)
	} else {
		m.heapBytes += newKeySize + newValueSize
	}
	return old.value, had
}

// Remove deletes key, returning its value if it was present.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	old, had := m.tree.Delete(entry[K, V]{key: key})
	if had {
		m.heapBytes -= m.keySize(old.key) + m.valueSize(old.value)
	}
	return old.value, had
}

// Extend inserts every (key, value) pair, as repeated calls to Insert.
func (m *Map[K, V]) Extend(pairs []struct {
	Key   K
	Value V
}) {
	for _, p := range pairs {
		m.Insert(p.Key, p.Value)
	}
}

// MutateEntry mutates the entry at key in place, inserting defaultValue
// first if key is absent. Byte-size bookkeeping is adjusted automatically
// from the value's size before and after mutator runs.
func (m *Map[K, V]) MutateEntry(key K, defaultValue V, mutator func(*V)) {
	e, had := m.tree.Get(entry[K, V]{key: key})
	if !had {
		e = entry[K, V]{key: key, value: defaultValue}
		mutator(&e.value)
		m.tree.ReplaceOrInsert(e)
		m.heapBytes += m.keySize(key) + m.valueSize(e.value)
		return
	}

	sizeBefore := m.valueSize(e.value)
	mutator(&e.value)
	sizeAfter := m.valueSize(e.value)
	m.tree.ReplaceOrInsert(e)
	m.heapBytes += sizeAfter - sizeBefore
}

// LatestAt returns the last entry with key' <= key, without mutating it.
// Read-only counterpart to MutateLatestAt, safe for concurrent callers
// that only need to observe the nearest entry (e.g. a clear-index probe
// under a store-wide read lock).
func (m *Map[K, V]) LatestAt(key K) (K, V, bool) {
	var found entry[K, V]
	ok := false
	m.tree.DescendLessOrEqual(entry[K, V]{key: key}, func(e entry[K, V]) bool {
		found = e
		ok = true
		return false
	})
	return found.key, found.value, ok
}

// DescendLessOrEqual calls yield once per entry with key <= from, in
// descending key order, stopping early if yield returns false. Unlike
// LatestAt/MutateLatestAt, which only ever look at the single nearest
// entry, this lets a caller walk backward past entries that don't
// qualify under some predicate until it finds one that does — e.g. the
// store's ancestor-recursive-clear lookup, which must skip a newer
// non-recursive clear to find an older recursive one underneath it.
func (m *Map[K, V]) DescendLessOrEqual(from K, yield func(key K, value V) bool) {
	m.tree.DescendLessOrEqual(entry[K, V]{key: from}, func(e entry[K, V]) bool {
		return yield(e.key, e.value)
	})
}

// MutateLatestAt finds the last entry with key' <= key and mutates it in
// place, reporting whether such an entry existed. Equivalent to Rust's
// `.range_mut(..=key).next_back()` but with automatic size tracking.
// Neither the store nor the query cache calls it; the store mutates its
// index buckets with MutateEntry.
func (m *Map[K, V]) MutateLatestAt(key K, mutator func(k K, v *V)) bool {
	var found entry[K, V]
	ok := false
	m.tree.DescendLessOrEqual(entry[K, V]{key: key}, func(e entry[K, V]) bool {
		found = e
		ok = true
		return false
	})
	if !ok {
		return false
	}

	sizeBefore := m.valueSize(found.value)
	mutator(found.key, &found.value)
	sizeAfter := m.valueSize(found.value)
	m.tree.ReplaceOrInsert(found)
	m.heapBytes += sizeAfter - sizeBefore
	return true
}
