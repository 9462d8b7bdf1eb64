// Package spread implements Spread: redistributing a window of segments
// according to a RebalancePartitions cardinality plan, merging in a
// pending insert if one triggered the rebalance. Two variants share the
// same contract (same inputs/outputs, same invariants on segment layout
// and StaticIndex pivots) but differ in memory traffic: InPlace copies
// the window through one scratch array; Rewiring (package-level function
// in rewiring.go) stages the write extent by extent through
// internal/rewiring buffers.
package spread

import (
	"sort"

	"github.com/indexresearch/apma/internal/memorypool"
)

// Window is a contiguous run of segments, as chosen by a CalibratorTree
// walk.
type Window struct {
	Start, Length int
}

// Pending is an insert that triggered the rebalance, to be merged into
// the window at its sorted position during the scratch pass rather than
// inserted separately afterwards.
type Pending struct {
	Key, Value int64
}

// Storage is the slice of storage.Storage that Spread depends on.
type Storage interface {
	Capacity() int
	LiveKeys(i int) []int64
	LiveValues(i int) []int64
	WriteSegment(i int, keys, values []int64)
}

// Index is the slice of staticindex.Index that Spread depends on.
type Index interface {
	SetPivot(i int, k int64)
	SetMinKey(k int64)
}

// Detector is the slice of detector.Detector that Spread depends on.
type Detector interface {
	ClearRange(start, length int)
}

// Result reports what InPlace or Rewiring changed, for the PMA facade to
// act on.
type Result struct {
	// PivotChanged[j] is true when segment Window.Start+j received a new
	// minimum key (empty segments, plan[j] == 0, never set this).
	PivotChanged []bool
	// Pivots[j] is the new pivot of segment Window.Start+j, valid iff
	// PivotChanged[j].
	Pivots []int64
}

// windowCardinality returns the number of live entries currently held by
// the window's segments, without allocating.
func windowCardinality(st Storage, w Window) int {
	n := 0
	for i := w.Start; i < w.Start+w.Length; i++ {
		n += len(st.LiveKeys(i))
	}
	return n
}

// gatherInto copies every live entry in the window into dst, in
// ascending key order, splicing pending in at its sorted position during
// the single left-to-right pass (the "merges any pending insert at the
// correct position during the scratch pass" requirement of spec §4.9).
// len(dstKeys) and len(dstValues) must equal the window's live
// cardinality plus one if pending is non-nil.
func gatherInto(st Storage, w Window, pending *Pending, dstKeys, dstValues []int64) {
	pos := 0
	inserted := pending == nil
	for i := w.Start; i < w.Start+w.Length; i++ {
		keys := st.LiveKeys(i)
		values := st.LiveValues(i)
		if !inserted {
			split := sort.Search(len(keys), func(j int) bool { return keys[j] > pending.Key })
			if split < len(keys) {
				copy(dstKeys[pos:], keys[:split])
				copy(dstValues[pos:], values[:split])
				pos += split
				dstKeys[pos] = pending.Key
				dstValues[pos] = pending.Value
				pos++
				copy(dstKeys[pos:], keys[split:])
				copy(dstValues[pos:], values[split:])
				pos += len(keys) - split
				inserted = true
				continue
			}
		}
		copy(dstKeys[pos:], keys)
		copy(dstValues[pos:], values)
		pos += len(keys)
	}
	if !inserted {
		// pending's key is >= every live key in the window: append at the
		// tail (the loop above never found a segment to splice into).
		dstKeys[pos] = pending.Key
		dstValues[pos] = pending.Value
	}
}

// applyPlan writes scratch's entries back into the window's segments per
// plan (len(plan) == w.Length, sums to len(scratchKeys)), and reports the
// new pivot of each segment that received at least one entry.
func applyPlan(st Storage, idx Index, w Window, plan []int, scratchKeys, scratchValues []int64) Result {
	res := Result{PivotChanged: make([]bool, w.Length), Pivots: make([]int64, w.Length)}
	offset := 0
	for j, cnt := range plan {
		i := w.Start + j
		st.WriteSegment(i, scratchKeys[offset:offset+cnt], scratchValues[offset:offset+cnt])
		if cnt > 0 {
			pivot := scratchKeys[offset]
			res.PivotChanged[j] = true
			res.Pivots[j] = pivot
			if i == 0 {
				idx.SetMinKey(pivot)
			} else {
				idx.SetPivot(i, pivot)
			}
		}
		offset += cnt
	}
	return res
}

// InPlace allocates a contiguous scratch array sized to the window's
// cardinality (plus one for pending, if any) out of pool, gathers the
// window's live entries into it in a single sequential pass (a
// contiguous sweep across segments thanks to parity packing), then
// writes them back per plan. If the window spans the whole storage
// (w.Length == totalSegments), the detector is cleared over the window,
// matching the "both variants end by clearing the detector when the
// spread covered the whole storage" rule.
func InPlace(pool *memorypool.Pool, st Storage, idx Index, det Detector, w Window, totalSegments int, plan []int, pending *Pending) Result {
	card := windowCardinality(st, w)
	if pending != nil {
		card++
	}
	block := pool.AllocateAligned(card*8, 8)
	valuesBlock := pool.AllocateAligned(card*8, 8)
	defer pool.Release(block)
	defer pool.Release(valuesBlock)

	scratchKeys := memorypool.Int64s(block, card)
	scratchValues := memorypool.Int64s(valuesBlock, card)
	gatherInto(st, w, pending, scratchKeys, scratchValues)

	res := applyPlan(st, idx, w, plan, scratchKeys, scratchValues)
	if w.Length == totalSegments {
		det.ClearRange(w.Start, w.Length)
	}
	return res
}
