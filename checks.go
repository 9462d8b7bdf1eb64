package apma

import (
	"os"

	"github.com/grailbio/base/log"
)

// debugChecks gates the O(N) invariant walk in checkInvariants, mirroring
// the teacher's Bitmap.CheckPanic: cheap enough to run from every test,
// too expensive to run unconditionally on a hot path in a release build.
// Set APMA_DEBUG_CHECKS=1 to enable it outside of tests.
var debugChecks = os.Getenv("APMA_DEBUG_CHECKS") == "1"

// CheckInvariants runs checkInvariants unconditionally, independent of
// debugChecks. It exists for tests and callers outside this package that
// want to drive the full-structure walk explicitly after a sequence of
// operations, mirroring the teacher's exported Bitmap.CheckPanic.
func (p *PMA) CheckInvariants(tag string) { p.checkInvariants(tag) }

// checkInvariants verifies, panicking on failure:
//   - every segment's live count is within [0, capacity]
//   - segment pivots (StaticIndex) are non-decreasing across segments and
//     match each non-empty segment's actual minimum key
//   - the sum of segment sizes equals Storage.Cardinality()
//   - every calibrator window below the root height has density within
//     its height's [Lower, Upper] thresholds
func (p *PMA) checkInvariants(tag string) {
	n := p.storage.NumSegments()
	var total int64
	var prevPivot int64
	havePrev := false
	for i := 0; i < n; i++ {
		size := p.storage.SegmentSize(i)
		if size < 0 || size > p.capacity {
			log.Panicf("apma: segment %d size %d out of range [0,%d], tag: %s", i, size, p.capacity, tag)
		}
		total += int64(size)
		if size == 0 {
			continue
		}
		pivot := p.storage.SegmentPivot(i)
		want := p.index.Pivot(i)
		if pivot != want {
			log.Panicf("apma: segment %d pivot %d, index says %d, tag: %s", i, pivot, want, tag)
		}
		if havePrev && pivot < prevPivot {
			log.Panicf("apma: segment %d pivot %d precedes prior pivot %d, tag: %s", i, pivot, prevPivot, tag)
		}
		prevPivot, havePrev = pivot, true
	}
	if total != p.storage.Cardinality() {
		log.Panicf("apma: sum of segment sizes %d != cardinality %d, tag: %s", total, p.storage.Cardinality(), tag)
	}
	p.checkWindowDensities(tag)
}

// checkWindowDensities walks every calibrator window at every height below
// the root (spec.md §8 invariant 4), using the same density formula as
// calibrator.Walk — span (the window's full size at height h) as the
// denominator, not the boundary-truncated length — so that a window
// straddling the end of storage is judged exactly as the rebalance path
// that maintains it judges it.
func (p *PMA) checkWindowDensities(tag string) {
	n := p.storage.NumSegments()
	c := p.capacity
	height := p.storage.Height()
	table := p.tableFor()
	for h := 1; h < height; h++ {
		span := 1 << uint(h-1)
		th := table.At(h)
		for start := 0; start < n; start += span {
			length := span
			if start+length > n {
				length = n - start
			}
			sum := 0
			for i := start; i < start+length; i++ {
				sum += p.storage.SegmentSize(i)
			}
			density := float64(sum) / float64(span*c)
			if density < th.Lower || density > th.Upper {
				log.Panicf("apma: window [%d,%d) at height %d density %.4f outside [%.4f,%.4f], tag: %s",
					start, start+length, h, density, th.Lower, th.Upper, tag)
			}
		}
	}
}
