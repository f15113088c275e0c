package addrspace

import "sort"

type mapEntry[V any] struct {
	rng   Range
	value V
}

// RangeMap maps pairwise-disjoint address ranges to values. Lookup is
// by point: the unique entry whose range contains the address. Entries
// are kept sorted by Start so that a point resolves with a binary
// search for the greatest Start <= addr.
type RangeMap[V any] struct {
	entries []mapEntry[V]
}

func (m *RangeMap[V]) Len() int {
	return len(m.entries)
}

// At returns the i-th entry in address order.
func (m *RangeMap[V]) At(i int) (Range, V) {
	e := m.entries[i]
	return e.rng, e.value
}

// Insert adds a range to the map. If the range overlaps an existing
// entry, nothing is inserted and the existing entry is returned with
// ok == false.
func (m *RangeMap[V]) Insert(r Range, v V) (Range, V, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].rng.Start > r.Start
	})
	if i > 0 && m.entries[i-1].rng.Overlaps(r) {
		e := m.entries[i-1]
		return e.rng, e.value, false
	}
	if i < len(m.entries) && m.entries[i].rng.Overlaps(r) {
		e := m.entries[i]
		return e.rng, e.value, false
	}
	m.entries = append(m.entries, mapEntry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = mapEntry[V]{rng: r, value: v}
	return r, v, true
}

// Find resolves a point to the entry containing it.
func (m *RangeMap[V]) Find(addr uint64) (Range, V, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].rng.Start > addr
	})
	if i == 0 {
		var zero V
		return Range{}, zero, false
	}
	e := m.entries[i-1]
	if !e.rng.ContainsPoint(addr) {
		var zero V
		return Range{}, zero, false
	}
	return e.rng, e.value, true
}

// Delete removes the entry whose range starts at r.Start.
func (m *RangeMap[V]) Delete(r Range) bool {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].rng.Start >= r.Start
	})
	if i == len(m.entries) || m.entries[i].rng.Start != r.Start {
		return false
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return true
}

// Each calls fn for every entry in address order until fn returns false.
func (m *RangeMap[V]) Each(fn func(Range, V) bool) {
	for _, e := range m.entries {
		if !fn(e.rng, e.value) {
			return
		}
	}
}
