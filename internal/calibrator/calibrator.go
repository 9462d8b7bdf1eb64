// Package calibrator implements the CalibratorTree: an implicit balanced
// binary tree over segments used to find the smallest window around a
// triggering segment whose density still satisfies the thresholds for
// its height, walking upward from leaf height 1 toward the root height H.
package calibrator

// Thresholds holds one (lower, upper) density pair.
type Thresholds struct {
	Lower float64
	Upper float64
}

// Table derives a (lower, upper) threshold pair for any height in
// [1, maxHeight] by linearly interpolating between the height-1 and
// height-maxHeight endpoints.
type Table struct {
	lower1, lowerH float64
	upper1, upperH float64
	maxHeight      int
}

// DefaultUserTable is the "user" threshold family from spec.md,
// ρ_1=0.08, ρ_H=0.30, τ_H=0.70, τ_1=0.92, used for small stores.
func DefaultUserTable(maxHeight int) Table {
	return Table{lower1: 0.08, lowerH: 0.30, upperH: 0.70, upper1: 0.92, maxHeight: maxHeight}
}

// DefaultPrimaryTable is the narrower "primary" family used once N
// exceeds the cutoff where resize/spread decisions must be more reactive.
func DefaultPrimaryTable(maxHeight int) Table {
	return Table{lower1: 0.50, lowerH: 0.50, upperH: 0.75, upper1: 0.75, maxHeight: maxHeight}
}

// At returns the threshold pair for height h, 1 <= h <= maxHeight.
func (t Table) At(h int) Thresholds {
	if t.maxHeight <= 1 {
		return Thresholds{Lower: t.lower1, Upper: t.upper1}
	}
	frac := float64(h-1) / float64(t.maxHeight-1)
	return Thresholds{
		Lower: t.lower1 + frac*(t.lowerH-t.lower1),
		Upper: t.upper1 + frac*(t.upperH-t.upper1),
	}
}

// Cardinalities is a narrow read-only view the calibrator walk uses to
// accumulate window cardinality without depending on storage directly.
type Cardinalities interface {
	SegmentSize(i int) int
}

// WindowResult describes the outcome of a calibrator walk.
type WindowResult struct {
	// Start, Length describe the window chosen for spreading. Valid only
	// when Resize is false.
	Start, Length int
	// Resize is true when the walk reached the root without finding a
	// satisfying window: the caller must grow (insert) or shrink
	// (remove) the whole structure instead of spreading a sub-window.
	Resize bool
}

// Walk ascends the calibrator tree starting at the leaf containing
// segment `seg` (leaf height 1), accumulating sibling cardinalities at
// each height and comparing the resulting density against table.At(h),
// stopping at the first height whose window satisfies the threshold (or
// signalling Resize once height H is exceeded without success).
//
// insert is true for an insertion into a full segment (density must not
// exceed Upper); false for a removal from a thin segment (density must
// not fall below Lower).
func Walk(card Cardinalities, n, c, height, seg int, insert bool, table Table) WindowResult {
	for h := 1; h <= height; h++ {
		span := 1 << uint(h-1)
		start := (seg / span) * span
		length := span
		if start+length > n {
			length = n - start
		}
		sum := 0
		for i := start; i < start+length; i++ {
			sum += card.SegmentSize(i)
		}
		density := float64(sum) / float64(span*c)
		th := table.At(h)
		if insert {
			if density <= th.Upper {
				return WindowResult{Start: start, Length: length}
			}
		} else {
			if density >= th.Lower {
				return WindowResult{Start: start, Length: length}
			}
		}
	}
	return WindowResult{Resize: true}
}
