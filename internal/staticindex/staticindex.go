// Package staticindex implements StaticIndex: a cache-oblivious implicit
// search tree keyed on segment pivots, mapping a key to the segment that
// would (or should) contain it.
//
// The tree is represented as a set of sampled levels rather than a single
// B^H-1-slot array with separately tracked rightmost-subtree descriptors:
// level 0 holds every segment pivot (the finest granularity); level L+1
// samples every fanout-th entry of level L, so the top level always has
// fewer than fanout entries and fits in one node. A lookup scans down from
// the top level to level 0, at each level restricting its scan to the
// sub-range implied by the count found one level up — the same "scan
// separator keys left-to-right within a node, then descend" shape spec.md
// describes, without needing the rightmost-subtree special case that a
// single flattened B^H-1 array would require.
package staticindex

import (
	"sort"

	"github.com/grailbio/base/log"
)

// Index is the StaticIndex over segment pivots. Segment 0's pivot is not
// stored in the sampled levels (it has no index array entry, per the
// data model); it lives in minKey instead.
type Index struct {
	fanout int
	n      int // number of indexed segments
	minKey int64
	levels [][]int64 // levels[0] = one entry per segment 1..n-1; levels[last] = root
}

// New creates an Index with the given node fanout (must be >= 3).
func New(fanout int) *Index {
	if fanout < 3 {
		log.Panicf("staticindex: fanout must be >= 3, got %d", fanout)
	}
	x := &Index{fanout: fanout}
	x.rebuildLevels()
	return x
}

// Fanout returns B.
func (x *Index) Fanout() int { return x.fanout }

// N returns the number of segments currently indexed.
func (x *Index) N() int { return x.n }

// MinKey returns the minimum key of the whole structure (segment 0's
// pivot), valid once N() > 0.
func (x *Index) MinKey() int64 { return x.minKey }

// SetMinKey updates the minimum key of the whole structure.
func (x *Index) SetMinKey(k int64) { x.minKey = k }

// Rebuild reallocates the index for a new segment count N. Existing pivot
// values are discarded; callers repopulate via SetPivot for every segment
// in [1, n).
func (x *Index) Rebuild(n int) {
	if n < 0 {
		log.Panicf("staticindex: Rebuild with negative n %d", n)
	}
	x.n = n
	sz := n - 1
	if sz < 0 {
		sz = 0
	}
	x.levels = [][]int64{make([]int64, sz)}
	x.rebuildLevels()
}

// rebuildLevels recomputes levels[1:] (the sampled levels) from the
// current contents of levels[0].
func (x *Index) rebuildLevels() {
	if len(x.levels) == 0 {
		x.levels = [][]int64{nil}
	}
	seps := x.levels[0]
	levels := [][]int64{seps}
	cur := seps
	for len(cur) > x.fanout-1 {
		next := make([]int64, 0, (len(cur)+x.fanout-1)/x.fanout)
		for i := x.fanout - 1; i < len(cur); i += x.fanout {
			next = append(next, cur[i])
		}
		levels = append(levels, next)
		cur = next
	}
	x.levels = levels
}

// Pivot returns the pivot of segment i (0 returns MinKey()).
func (x *Index) Pivot(i int) int64 {
	if i == 0 {
		return x.minKey
	}
	if i < 0 || i > x.n-1 {
		log.Panicf("staticindex: Pivot(%d) out of range for N=%d", i, x.n)
	}
	return x.levels[0][i-1]
}

// SetPivot sets the pivot of segment i, propagating the change up through
// the sampled levels in O(H) time. set_pivot on an out-of-range id is a
// contract violation (fatal).
func (x *Index) SetPivot(i int, k int64) {
	if i == 0 {
		x.minKey = k
		return
	}
	if i < 1 || i > x.n-1 {
		log.Panicf("staticindex: SetPivot(%d) out of range for N=%d", i, x.n)
	}
	p := i - 1
	for lvl := 0; lvl < len(x.levels); lvl++ {
		x.levels[lvl][p] = k
		if p%x.fanout != x.fanout-1 {
			break
		}
		p /= x.fanout
	}
}

// countWhile returns the number of entries in the index's pivot sequence
// (levels[0]) satisfying pred, assuming pred is true for a prefix of the
// (ascending, possibly duplicate-containing) sequence and false after.
func (x *Index) countWhile(pred func(int64) bool) int {
	if x.n == 0 {
		return 0
	}
	idx := 0
	for l := len(x.levels) - 1; l >= 0; l-- {
		lvl := x.levels[l]
		start := idx * x.fanout
		if start > len(lvl) {
			start = len(lvl)
		}
		end := start + x.fanout
		if end > len(lvl) {
			end = len(lvl)
		}
		block := lvl[start:end]
		c := sort.Search(len(block), func(i int) bool { return !pred(block[i]) })
		idx = start + c
	}
	return idx
}

// Find returns the unique segment that would contain k under
// non-duplicating ordered-map semantics: the largest segment index i with
// pivot(i) <= k, or 0 if k is smaller than every pivot. Returns 0 on an
// empty index.
func (x *Index) Find(k int64) int {
	return x.countWhile(func(p int64) bool { return p <= k })
}

// FindFirst returns the leftmost segment that may contain k under
// duplicate keys: safe to start a left-to-right scan for k at. It is never
// later than the true first occurrence, since pivots are monotonic.
func (x *Index) FindFirst(k int64) int {
	return x.countWhile(func(p int64) bool { return p < k })
}

// FindLast returns the rightmost segment that may contain k under
// duplicate keys (the same value as Find, since count-of-pivots<=k already
// lands on the last segment whose run of equal pivots includes k).
func (x *Index) FindLast(k int64) int {
	return x.countWhile(func(p int64) bool { return p <= k })
}
