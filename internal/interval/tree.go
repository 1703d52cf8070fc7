// Package interval provides the sorted-range lookup StreamManager uses to
// resolve a faulting address to the stream that owns it.
package interval

import (
	"fmt"
	"sort"
	"sync"
)

// entry is one registered range, sorted into Tree.entries by Start.
type entry struct {
	start, end uintptr // [start, end)
	handle     any
}

// Tree maps disjoint virtual-address ranges to owner handles. Implemented
// as a start-sorted slice with sort.Search doing the predecessor lookup
// rather than a balanced tree: ranges never overlap and registration churn
// is low.
type Tree struct {
	mu      sync.Mutex
	entries []entry
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{}
}

// Add registers [start, end) as owned by handle. Buffer reservations must
// be disjoint, so overlap with any existing range is refused rather than
// silently clobbering bookkeeping.
func (t *Tree) Add(start, end uintptr, handle any) error {
	if end <= start {
		return fmt.Errorf("interval: empty or inverted range [%d, %d)", start, end)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].start >= start
	})
	if i > 0 && t.entries[i-1].end > start {
		return fmt.Errorf("interval: range [%d, %d) overlaps existing [%d, %d)", start, end, t.entries[i-1].start, t.entries[i-1].end)
	}
	if i < len(t.entries) && t.entries[i].start < end {
		return fmt.Errorf("interval: range [%d, %d) overlaps existing [%d, %d)", start, end, t.entries[i].start, t.entries[i].end)
	}

	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{start: start, end: end, handle: handle}
	return nil
}

// Remove drops the range starting at start.
func (t *Tree) Remove(start uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].start >= start
	})
	if i >= len(t.entries) || t.entries[i].start != start {
		return fmt.Errorf("interval: no range registered at start %d", start)
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return nil
}

// Find returns the handle owning addr, and whether one was found.
// Containment is checked uniformly: addr must fall within [start, end).
func (t *Tree) Find(addr uintptr) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].end > addr
	})
	if i < len(t.entries) && addr >= t.entries[i].start {
		return t.entries[i].handle, true
	}
	return nil, false
}

// StartWalk returns an iterator closure that yields each registered handle in
// start order. The tree's lock is held across the whole walk, so callers must
// drain it (or stop calling it) promptly; register/unregister must not race
// a walk in progress.
func (t *Tree) StartWalk() func() (any, bool) {
	t.mu.Lock()
	i := 0
	done := false
	return func() (any, bool) {
		if done {
			return nil, false
		}
		if i >= len(t.entries) {
			done = true
			t.mu.Unlock()
			return nil, false
		}
		h := t.entries[i].handle
		i++
		return h, true
	}
}

// Len reports how many ranges are currently registered.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
