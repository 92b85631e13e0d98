package segment

import (
	"sort"
	"sync"
)

// Index is an ordered, finite (VOD) or unbounded (live) sequence of
// References for one Stream. It is safe for concurrent readers; writers
// (evict, merge) take an exclusive lock, matching the contract that the
// Patch Applier is the manifest's only writer (§5).
type Index struct {
	mu   sync.RWMutex
	refs []*Reference // sorted ascending by StartTime
}

// NewIndex builds an Index from an already-sorted (by StartTime) list of
// references. Panics if the list is not monotonic, since that would violate
// the Stream invariant from the start.
func NewIndex(refs []*Reference) *Index {
	for i := 1; i < len(refs); i++ {
		if refs[i].StartTime <= refs[i-1].StartTime {
			panic("segment: references must be strictly monotonic in StartTime")
		}
	}
	cp := make([]*Reference, len(refs))
	copy(cp, refs)
	return &Index{refs: cp}
}

// Len returns the number of materialised references.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.refs)
}

// Get returns the reference at position, or nil past the end.
func (idx *Index) Get(position int) *Reference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if position < 0 || position >= len(idx.refs) {
		return nil
	}
	return idx.refs[position]
}

// Find returns the position of the segment covering mediaTime, or the
// segment strictly after it when mediaTime falls in a gap. Returns -1 if
// mediaTime is past every reference.
func (idx *Index) Find(mediaTime float64) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	// First ref whose EndTime > mediaTime covers it (or is the gap-successor).
	i := sort.Search(len(idx.refs), func(i int) bool {
		return idx.refs[i].EndTime > mediaTime
	})
	if i >= len(idx.refs) {
		return -1
	}
	return i
}

// Cursor is a restartable iterator over an Index.
type Cursor struct {
	idx *Index
	pos int
}

// IteratorFrom builds a Cursor positioned at the segment covering
// mediaTime (or its gap-successor).
func (idx *Index) IteratorFrom(mediaTime float64) *Cursor {
	pos := idx.Find(mediaTime)
	if pos < 0 {
		pos = idx.Len()
	}
	return &Cursor{idx: idx, pos: pos}
}

// IteratorFromPosition builds a Cursor positioned exactly at pos.
func (idx *Index) IteratorFromPosition(pos int) *Cursor {
	return &Cursor{idx: idx, pos: pos}
}

// Current returns the reference the cursor sits on, or nil past the end.
func (c *Cursor) Current() *Reference {
	return c.idx.Get(c.pos)
}

// Position returns the cursor's current index.
func (c *Cursor) Position() int {
	return c.pos
}

// Advance moves the cursor to the next reference and returns it.
func (c *Cursor) Advance() *Reference {
	c.pos++
	return c.Current()
}

// Evict drops references whose EndTime <= olderThan. References already
// handed out via Get/Current remain valid to their holder (they are plain
// values reachable by pointer), matching the "remain valid elsewhere via
// shared ownership" contract.
func (idx *Index) Evict(olderThan float64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := sort.Search(len(idx.refs), func(i int) bool {
		return idx.refs[i].EndTime > olderThan
	})
	if i == 0 {
		return
	}
	idx.refs = append([]*Reference{}, idx.refs[i:]...)
}

// Merge folds in references newly learned from a live manifest update (or a
// Patch Applier reconciliation). It is idempotent for overlapping ranges:
// a new reference only replaces an existing one when their StartTime
// matches; otherwise it is inserted in sorted position.
func (idx *Index) Merge(other []*Reference) {
	if len(other) == 0 {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	byStart := make(map[float64]int, len(idx.refs))
	for i, r := range idx.refs {
		byStart[r.StartTime] = i
	}
	for _, nr := range other {
		if i, ok := byStart[nr.StartTime]; ok {
			idx.refs[i] = nr
			continue
		}
		idx.refs = append(idx.refs, nr)
	}
	sort.Slice(idx.refs, func(i, j int) bool {
		return idx.refs[i].StartTime < idx.refs[j].StartTime
	})
}

// All, First and Last read the references without exposing the raw slice.

// All returns every materialised reference, in order. Used by the Patch
// Applier to fold one Index's contents into another via Merge.
func (idx *Index) All() []*Reference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*Reference, len(idx.refs))
	copy(out, idx.refs)
	return out
}

// First returns the earliest reference, or nil if empty.
func (idx *Index) First() *Reference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.refs) == 0 {
		return nil
	}
	return idx.refs[0]
}

// Last returns the latest reference, or nil if empty.
func (idx *Index) Last() *Reference {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.refs) == 0 {
		return nil
	}
	return idx.refs[len(idx.refs)-1]
}
