// Package intern provides a bounded, lock-free string interner.
//
// The interner canonicalizes identifier strings (class names, method names,
// method signatures) to unique *string handles so that downstream comparisons
// use pointer identity instead of content. The table is a fixed-capacity
// open-addressed array with linear probing: reads are lock-free and inserts
// publish through a per-slot compare-and-swap.
//
// The table never evicts. When it fills up, Intern degrades gracefully by
// returning an un-canonicalized handle; callers must treat identity
// comparisons as best-effort. In practice the table is sized to at least
// twice the trie node cap, so overflow is vanishingly rare.
package intern

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultCapacity is used when no capacity is configured.
const DefaultCapacity = 2_000_000

// Table is a fixed-capacity canonicalization table. The zero value is not
// usable; create instances with NewTable.
type Table struct {
	slots []atomic.Pointer[string]
	mask  uint64

	size      atomic.Int64
	overflows atomic.Int64
}

// NewTable creates a table sized to the smallest power of two >= capacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Table{
		slots: make([]atomic.Pointer[string], n),
		mask:  uint64(n - 1),
	}
}

// Intern returns the canonical handle for s, inserting it if absent.
//
// Two calls with equal content return the same pointer, so callers may
// compare handles with ==. When the table is full the argument is returned
// as a fresh, un-canonicalized handle and the overflow counter is bumped.
func (t *Table) Intern(s string) *string {
	h := xxhash.Sum64String(s)

	for i := uint64(0); i < uint64(len(t.slots)); i++ {
		idx := (h + i) & t.mask
		p := t.slots[idx].Load()
		if p == nil {
			if t.size.Load() >= int64(len(t.slots)) {
				break
			}
			candidate := new(string)
			*candidate = s
			if t.slots[idx].CompareAndSwap(nil, candidate) {
				t.size.Add(1)
				return candidate
			}
			// Lost the race; whoever won may have inserted our string.
			p = t.slots[idx].Load()
		}
		if p != nil && *p == s {
			return p
		}
	}

	t.overflows.Add(1)
	raw := new(string)
	*raw = s
	return raw
}

// Contains reports whether s is currently canonicalized, without inserting.
func (t *Table) Contains(s string) bool {
	h := xxhash.Sum64String(s)
	for i := uint64(0); i < uint64(len(t.slots)); i++ {
		idx := (h + i) & t.mask
		p := t.slots[idx].Load()
		if p == nil {
			return false
		}
		if *p == s {
			return true
		}
	}
	return false
}

// Size returns the approximate number of canonicalized strings.
func (t *Table) Size() int {
	return int(t.size.Load())
}

// Capacity returns the table's slot count.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Overflows returns how many Intern calls returned un-canonicalized handles.
func (t *Table) Overflows() int64 {
	return t.overflows.Load()
}

// Clear resets the table in bulk. Not safe to run concurrently with Intern
// from a correctness-of-identity standpoint (handles issued before the clear
// no longer compare equal to handles issued after); it is never called on the
// hot path and only as part of a global reset.
func (t *Table) Clear() {
	for i := range t.slots {
		t.slots[i].Store(nil)
	}
	t.size.Store(0)
	t.overflows.Store(0)
}
