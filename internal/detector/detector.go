// Package detector implements Detector: a per-segment ring buffer of
// update timestamps plus saturating counters that recognise runs of
// insertions or removals hammering a predictable sequence of keys, so
// that a rebalance can weight its post-split cardinalities toward the
// segments future inserts are likely to land in.
package detector

import "github.com/grailbio/base/log"

const (
	// DefaultRingSize is M, the number of timestamp slots per entry.
	DefaultRingSize = 8
	// DefaultMaxSeg is the saturation bound for seg_count.
	DefaultMaxSeg = 10
	// DefaultMaxSeq is the saturation bound for fwd_count/bwd_count.
	DefaultMaxSeq = 8
)

// entry is one segment's detector record.
type entry struct {
	head     int
	ts       []int64
	segCount int32
	fwdCount int32
	bwdCount int32
	fwdKey   int64
	bwdKey   int64
}

// Detector owns one entry per segment.
type Detector struct {
	m       int
	maxSeg  int32
	maxSeq  int32
	clock   int64
	entries []entry
}

// New creates a Detector sized for n segments with the default
// ring/saturation sizes.
func New(n int) *Detector {
	return NewSized(n, DefaultRingSize, DefaultMaxSeg, DefaultMaxSeq)
}

// NewSized creates a Detector with explicit ring and saturation sizes.
func NewSized(n, ringSize int, maxSeg, maxSeq int32) *Detector {
	d := &Detector{m: ringSize, maxSeg: maxSeg, maxSeq: maxSeq}
	d.entries = make([]entry, n)
	for i := range d.entries {
		d.entries[i].ts = make([]int64, ringSize)
	}
	return d
}

// N returns the number of segments tracked.
func (d *Detector) N() int { return len(d.entries) }

// RingSize returns M, this Detector's per-segment timestamp ring size
// (DefaultRingSize unless the Detector was built with NewSized).
func (d *Detector) RingSize() int { return d.m }

func clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Record logs an update to segment i. insert is true for an insertion,
// false for a removal. predecessor/successor are the keys immediately
// before/after the updated key in sorted order at the time of the
// update (either may be absent; callers pass a sentinel the caller's
// key space never produces, e.g. the key itself, to mean "none").
func (d *Detector) Record(i int, insert bool, predecessor, successor int64) {
	e := &d.entries[i]
	d.clock++
	e.ts[e.head] = d.clock
	e.head = (e.head + 1) % d.m

	switch {
	case successor == e.bwdKey:
		e.bwdCount = clamp(e.bwdCount+1, -d.maxSeq, d.maxSeq)
	case predecessor == e.fwdKey:
		e.fwdCount = clamp(e.fwdCount+1, -d.maxSeq, d.maxSeq)
	default:
		e.fwdCount = decayTowardZero(e.fwdCount)
		e.bwdCount = decayTowardZero(e.bwdCount)
		e.fwdKey = predecessor
		e.bwdKey = successor
	}

	// A step that runs against the counter's current sign (removes while
	// it leans positive, inserts while it leans negative) decays it back
	// toward zero at twice the rate of a step that reinforces the trend.
	prevSign := sign(e.segCount)
	var delta int32
	switch {
	case insert && prevSign < 0:
		delta = 2
	case insert:
		delta = 1
	case !insert && prevSign > 0:
		delta = -2
	default:
		delta = -1
	}
	e.segCount = clamp(e.segCount+delta, -d.maxSeg, d.maxSeg)
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func decayTowardZero(v int32) int32 {
	switch {
	case v > 0:
		return v - 1
	case v < 0:
		return v + 1
	default:
		return 0
	}
}

// SegCount returns the saturating insert/remove counter for segment i.
func (d *Detector) SegCount(i int) int32 { return d.entries[i].segCount }

// FwdCount, BwdCount, FwdKey, BwdKey expose the sequence-run state used
// by Weights to narrow a hammered region around a recorded successor or
// predecessor.
func (d *Detector) FwdCount(i int) int32 { return d.entries[i].fwdCount }
func (d *Detector) BwdCount(i int) int32 { return d.entries[i].bwdCount }
func (d *Detector) FwdKey(i int) int64   { return d.entries[i].fwdKey }
func (d *Detector) BwdKey(i int) int64   { return d.entries[i].bwdKey }

// Timestamps returns a copy of segment i's non-zero ring timestamps.
func (d *Detector) Timestamps(i int) []int64 {
	e := &d.entries[i]
	out := make([]int64, 0, d.m)
	for _, t := range e.ts {
		if t != 0 {
			out = append(out, t)
		}
	}
	return out
}

// MinTimestamp returns the oldest non-zero timestamp recorded for
// segment i, or 0 if none.
func (d *Detector) MinTimestamp(i int) int64 {
	e := &d.entries[i]
	var min int64
	for _, t := range e.ts {
		if t == 0 {
			continue
		}
		if min == 0 || t < min {
			min = t
		}
	}
	return min
}

// Clear zeroes a single segment's entry.
func (d *Detector) Clear(i int) {
	e := &d.entries[i]
	*e = entry{ts: e.ts}
	for j := range e.ts {
		e.ts[j] = 0
	}
}

// ClearRange zeroes every entry in [start, start+length).
func (d *Detector) ClearRange(start, length int) {
	for i := start; i < start+length; i++ {
		d.Clear(i)
	}
}

// Move copies entry `from` into `to` and clears `from`, for segments
// displaced by a resize.
func (d *Detector) Move(from, to int) {
	if from == to {
		return
	}
	src := d.entries[from]
	dst := &d.entries[to]
	dst.head = src.head
	dst.segCount = src.segCount
	dst.fwdCount = src.fwdCount
	dst.bwdCount = src.bwdCount
	dst.fwdKey = src.fwdKey
	dst.bwdKey = src.bwdKey
	copy(dst.ts, src.ts)
	d.Clear(from)
}

// Resize reallocates the Detector for a new segment count, clearing all
// entries (the caller repopulates via Record as post-rebalance traffic
// arrives).
func (d *Detector) Resize(n int) {
	if n < 0 {
		log.Panicf("detector: Resize with negative n %d", n)
	}
	d.entries = make([]entry, n)
	for i := range d.entries {
		d.entries[i].ts = make([]int64, d.m)
	}
}
