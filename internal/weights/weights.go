// Package weights implements Weights: it projects a Detector's state onto
// a calibrator window and produces a compact list of signed "hammered"
// intervals that RebalancePartitions uses to bias post-rebalance
// cardinalities toward segments future inserts are predicted to hit.
package weights

import (
	"sort"

	"github.com/grailbio/base/bitset"
)

// Interval is a signed hammered run within a window: Weight is +1 for an
// insert-dominated run, -1 for a delete-dominated one.
type Interval struct {
	Start  int
	Length int
	Weight int
}

// Result is the output of a Project call.
type Result struct {
	Intervals []Interval
	// Balance is the signed total Σ weight across the final intervals.
	Balance int
	// ClearSegments lists segments whose detector entry the caller should
	// reset, because their hammered run was cancelled by an
	// opposite-sign neighbour touching it.
	ClearSegments []int
}

// Params tunes the classification thresholds.
type Params struct {
	// RankFraction is θ: timestamps below the ⌊θ·n⌋-th order statistic
	// are considered too stale to mark their segment as hammered.
	RankFraction float64
	// SegCountThreshold is the |seg_count| a segment must exceed.
	SegCountThreshold int32
	// SeqThreshold is the fwd_count/bwd_count run length that triggers
	// narrowing to the exact successor/predecessor boundary.
	SeqThreshold int32
}

// DefaultParams returns the spec's default tuning (θ = 0.99).
func DefaultParams() Params {
	return Params{RankFraction: 0.99, SegCountThreshold: 4, SeqThreshold: 4}
}

// DetectorView is the slice of Detector that Weights depends on.
type DetectorView interface {
	SegCount(i int) int32
	FwdCount(i int) int32
	BwdCount(i int) int32
	FwdKey(i int) int64
	BwdKey(i int) int64
	Timestamps(i int) []int64
}

// Project computes the Result for window [start, start+length) given det
// and params. finder maps a key to its owning segment index; it is used
// only to narrow long sequential runs to their exact boundary segment,
// and may be nil to disable that refinement.
func Project(det DetectorView, start, length int, params Params, finder func(int64) int) Result {
	if length <= 0 {
		return Result{}
	}

	var scratch []int64
	for i := start; i < start+length; i++ {
		scratch = append(scratch, det.Timestamps(i)...)
	}
	var rankThreshold int64
	if len(scratch) > 0 {
		rank := int(float64(len(scratch)) * params.RankFraction)
		if rank >= len(scratch) {
			rank = len(scratch) - 1
		}
		rankThreshold = quickselect(scratch, rank)
	}

	nwords := (length + bitset.BitsPerWord - 1) / bitset.BitsPerWord
	marked := make([]uintptr, nwords)
	wt := make([]int, length)
	mark := func(local, w int) {
		marked[local/bitset.BitsPerWord] |= 1 << uint(local%bitset.BitsPerWord)
		wt[local] = w
	}

	for i := 0; i < length; i++ {
		seg := start + i
		sc := det.SegCount(seg)
		if abs32(sc) <= params.SegCountThreshold {
			continue
		}
		minTS := minNonZero(det.Timestamps(seg))
		if minTS == 0 || minTS < rankThreshold {
			continue
		}
		if sc > 0 {
			mark(i, 1)
		} else {
			mark(i, -1)
		}
	}

	if finder != nil {
		for i := 0; i < length; i++ {
			seg := start + i
			if det.FwdCount(seg) >= params.SeqThreshold {
				if boundary := finder(det.FwdKey(seg)); boundary >= start && boundary < start+length {
					mark(boundary-start, 1)
				}
			}
			if det.BwdCount(seg) >= params.SeqThreshold {
				if boundary := finder(det.BwdKey(seg)); boundary >= start && boundary < start+length {
					mark(boundary-start, 1)
				}
			}
		}
	}

	var intervals []Interval
	var clear []int
	for i := 0; i < length; i++ {
		if !bitset.Test(marked, i) {
			continue
		}
		w := wt[i]
		seg := start + i
		if n := len(intervals); n > 0 {
			last := &intervals[n-1]
			if last.Start+last.Length == seg {
				if last.Weight == w {
					last.Length++
					continue
				}
				// Opposite-sign neighbours cancel immediately: the
				// existing run is spliced out rather than left for a
				// later pass, and both sides are queued for a detector
				// reset.
				for c := last.Start; c < last.Start+last.Length; c++ {
					clear = append(clear, c)
				}
				clear = append(clear, seg)
				intervals = intervals[:n-1]
				continue
			}
		}
		intervals = append(intervals, Interval{Start: seg, Length: 1, Weight: w})
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].Start < intervals[j].Start })

	balance := 0
	for _, iv := range intervals {
		balance += iv.Weight
	}

	return Result{Intervals: intervals, Balance: balance, ClearSegments: clear}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func minNonZero(ts []int64) int64 {
	var min int64
	for _, t := range ts {
		if t == 0 {
			continue
		}
		if min == 0 || t < min {
			min = t
		}
	}
	return min
}

// quickselect partitions a in place and returns the k-th smallest value
// (0-indexed), used to find the ⌊θ·n⌋-th order statistic of the
// in-window timestamps.
func quickselect(a []int64, k int) int64 {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := hoarePartition(a, lo, hi)
		switch {
		case p == k:
			return a[p]
		case p < k:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
	return a[lo]
}

func hoarePartition(a []int64, lo, hi int) int {
	pivot := a[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if a[j] < pivot {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}
