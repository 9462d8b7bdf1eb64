// Package storage implements Storage: a segmented sparse array of
// key/value pairs with per-segment cardinalities, parity-packed so that
// two consecutive segments sit physically adjacent in memory (even
// segments right-aligned, odd segments left-aligned), turning a window
// scan into a single contiguous sweep past the interior empty slots.
package storage

import (
	"sort"

	"github.com/grailbio/base/log"
)

// Entry is a single key/value pair.
type Entry struct {
	Key   int64
	Value int64
}

// Storage owns the flat keys/values/sizes arrays for N fixed-capacity
// segments of capacity C each.
type Storage struct {
	c      int // segment capacity, power of two, 8 <= c <= 65535
	n      int // segment count, power of two
	keys   []int64
	values []int64
	sizes  []int
	card   int64 // total live entries
}

// New creates a Storage with n segments of capacity c. Both are assumed
// already validated (power of two, in range) by the caller (the PMA
// facade owns construction-time validation, per spec §7).
func New(n, c int) *Storage {
	return &Storage{
		c:      c,
		n:      n,
		keys:   make([]int64, n*c),
		values: make([]int64, n*c),
		sizes:  make([]int, n),
	}
}

// Capacity returns the per-segment slot capacity C.
func (s *Storage) Capacity() int { return s.c }

// NumSegments returns N.
func (s *Storage) NumSegments() int { return s.n }

// Height returns H = log2(N) + 1, the height of the calibrator tree.
func (s *Storage) Height() int {
	h := 1
	for n := s.n; n > 1; n >>= 1 {
		h++
	}
	return h
}

// Cardinality returns the total number of live entries.
func (s *Storage) Cardinality() int64 { return s.card }

// SegmentSize returns the cardinality of segment i.
func (s *Storage) SegmentSize(i int) int { return s.sizes[i] }

// SegmentFull reports whether segment i has no free slots.
func (s *Storage) SegmentFull(i int) bool { return s.sizes[i] == s.c }

// liveRange returns the local slot range [start, end) occupied by live
// entries in segment i, per the parity-packing convention.
func (s *Storage) liveRange(i int) (start, end int) {
	size := s.sizes[i]
	if i%2 == 1 {
		return 0, size
	}
	return s.c - size, s.c
}

// SegmentPivot returns the minimum key of segment i. Panics if the
// segment is empty (contract violation — callers must not call this on
// an unused segment).
func (s *Storage) SegmentPivot(i int) int64 {
	start, end := s.liveRange(i)
	if start == end {
		log.Panicf("storage: SegmentPivot(%d) on empty segment", i)
	}
	return s.keys[i*s.c+start]
}

// LiveKeys returns a read-only view of segment i's live keys, ascending.
func (s *Storage) LiveKeys(i int) []int64 {
	start, end := s.liveRange(i)
	base := i * s.c
	return s.keys[base+start : base+end]
}

// LiveValues returns a read-only view of segment i's live values, in the
// same order as LiveKeys.
func (s *Storage) LiveValues(i int) []int64 {
	start, end := s.liveRange(i)
	base := i * s.c
	return s.values[base+start : base+end]
}

// SegmentInsert inserts (k, v) into segment i, which must have at least
// one free slot (segments are checked for fullness by the caller before
// this is invoked — the calibrator/rebalance path runs instead when full).
// It returns whether the segment's pivot (minimum key) changed.
func (s *Storage) SegmentInsert(i int, k, v int64) (pivotChanged bool) {
	size := s.sizes[i]
	if size >= s.c {
		log.Panicf("storage: SegmentInsert(%d) on full segment", i)
	}
	base := i * s.c
	start, _ := s.liveRange(i)
	pos := sort.Search(size, func(j int) bool { return s.keys[base+start+j] > k })

	if i%2 == 1 {
		// Odd segment: left-packed, live = [0, size). Grow at the tail.
		copy(s.keys[base+pos+1:base+size+1], s.keys[base+pos:base+size])
		copy(s.values[base+pos+1:base+size+1], s.values[base+pos:base+size])
		s.keys[base+pos] = k
		s.values[base+pos] = v
	} else {
		// Even segment: right-packed, live = [c-size, c). Grow at the head.
		newStart := start - 1
		copy(s.keys[base+newStart:base+newStart+pos], s.keys[base+start:base+start+pos])
		copy(s.values[base+newStart:base+newStart+pos], s.values[base+start:base+start+pos])
		s.keys[base+newStart+pos] = k
		s.values[base+newStart+pos] = v
	}
	s.sizes[i] = size + 1
	s.card++
	return pos == 0
}

// SegmentRemove removes the first live entry matching key k from segment
// i, returning its value, whether it was found, and whether the
// segment's pivot changed.
func (s *Storage) SegmentRemove(i int, k int64) (value int64, found bool, pivotChanged bool) {
	size := s.sizes[i]
	base := i * s.c
	start, _ := s.liveRange(i)
	pos := sort.Search(size, func(j int) bool { return s.keys[base+start+j] >= k })
	if pos == size || s.keys[base+start+pos] != k {
		return 0, false, false
	}
	value = s.values[base+start+pos]

	if i%2 == 1 {
		copy(s.keys[base+pos:base+size-1], s.keys[base+pos+1:base+size])
		copy(s.values[base+pos:base+size-1], s.values[base+pos+1:base+size])
	} else {
		copy(s.keys[base+start+1:base+start+pos+1], s.keys[base+start:base+start+pos])
		copy(s.values[base+start+1:base+start+pos+1], s.values[base+start:base+start+pos])
	}
	s.sizes[i] = size - 1
	s.card--
	return value, true, pos == 0
}

// SegmentFind returns the value for key k in segment i, if present.
func (s *Storage) SegmentFind(i int, k int64) (value int64, found bool) {
	keys := s.LiveKeys(i)
	pos := sort.Search(len(keys), func(j int) bool { return keys[j] >= k })
	if pos == len(keys) || keys[pos] != k {
		return 0, false
	}
	return s.LiveValues(i)[pos], true
}

// WriteSegment overwrites segment i's live contents with keys/values
// (already sorted ascending, len(keys) <= C), placed according to the
// segment's parity packing. Used by Spread to write a planned
// cardinality's worth of entries back into a segment. It updates the
// segment's size and the storage's total cardinality bookkeeping but does
// not touch sibling segments.
func (s *Storage) WriteSegment(i int, keys, values []int64) {
	if len(keys) > s.c {
		log.Panicf("storage: WriteSegment(%d) with %d entries exceeds capacity %d", i, len(keys), s.c)
	}
	base := i * s.c
	var start int
	if i%2 == 1 {
		start = 0
	} else {
		start = s.c - len(keys)
	}
	copy(s.keys[base+start:base+start+len(keys)], keys)
	copy(s.values[base+start:base+start+len(values)], values)
	s.card += int64(len(keys)) - int64(s.sizes[i])
	s.sizes[i] = len(keys)
}

// ClearSegment empties segment i, e.g. ahead of a WriteSegment pass over a
// window whose segments will be fully repopulated.
func (s *Storage) ClearSegment(i int) {
	s.card -= int64(s.sizes[i])
	s.sizes[i] = 0
}

// MemoryFootprint returns the approximate number of bytes occupied by the
// backing arrays.
func (s *Storage) MemoryFootprint() int64 {
	return int64(len(s.keys)+len(s.values))*8 + int64(len(s.sizes))*8
}

// Resize reallocates the storage for a new segment count. All segments
// are cleared; callers (the spread step following a resize) are
// responsible for repopulating every segment in the new layout.
func (s *Storage) Resize(newN int) {
	s.n = newN
	s.keys = make([]int64, newN*s.c)
	s.values = make([]int64, newN*s.c)
	s.sizes = make([]int, newN)
	s.card = 0
}
