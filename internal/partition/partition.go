// Package partition implements RebalancePartitions: given a window and a
// total cardinality, it decides how many live entries each segment in the
// window should hold after a spread. Uniform planning reproduces the
// classic PMA (even split plus remainder); adaptive planning biases the
// split toward the segments Weights predicts will be hammered next.
package partition

import "github.com/indexresearch/apma/internal/weights"

// Plan computes the post-rebalance cardinality for each of the length
// segments in a window, given the window's total cardinality and the
// hammered intervals Weights found within it (possibly empty, which
// selects uniform planning). capacity is the per-segment slot count C;
// thresholdAt returns the (lower, upper) density thresholds for the
// calibrator height of a sub-range of the given size (used to clamp
// adaptive splits to a feasible cardinality range).
func Plan(length, cardinality, capacity int, intervals []weights.Interval, thresholdAt func(rangeLen int) (lower, upper float64)) []int {
	out := make([]int, length)
	if len(intervals) == 0 {
		planUniform(out, cardinality)
		return out
	}
	w := expandWeights(length, intervals)
	recurse(out, 0, length, cardinality, w, capacity, thresholdAt)
	return out
}

// planUniform fills out with cardinality/len(out), distributing the
// remainder one-per-segment starting from the front.
func planUniform(out []int, cardinality int) {
	n := len(out)
	if n == 0 {
		return
	}
	base := cardinality / n
	rem := cardinality % n
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
}

// expandWeights turns the sparse interval list into a dense per-segment
// weight array (0 for segments outside any hammered interval).
func expandWeights(length int, intervals []weights.Interval) []int {
	w := make([]int, length)
	for _, iv := range intervals {
		for i := iv.Start; i < iv.Start+iv.Length; i++ {
			if i >= 0 && i < length {
				w[i] = iv.Weight
			}
		}
	}
	return w
}

// recurse implements the §4.8 pseudocode: split [lo, hi) into halves that
// balance predicted insert load (weight density) rather than existing
// cardinality, clamped to the per-segment density thresholds, and
// recurse. out[lo:hi] receives the planned cardinalities.
func recurse(out []int, lo, hi, cardinality int, w []int, capacity int, thresholdAt func(int) (float64, float64)) {
	n := hi - lo
	if n == 1 {
		out[lo] = cardinality
		return
	}
	if allZero(w[lo:hi]) {
		planUniform(out[lo:hi], cardinality)
		return
	}

	leftLen := n / 2
	rightLen := n - leftLen
	lower, upper := thresholdAt(leftLen)
	rlower, rupper := thresholdAt(rightLen)

	bestSplit := -1
	bestDiff := 0.0
	for leftCard := 0; leftCard <= cardinality; leftCard++ {
		rightCard := cardinality - leftCard
		if !feasible(leftCard, leftLen, capacity, lower, upper) {
			continue
		}
		if !feasible(rightCard, rightLen, capacity, rlower, rupper) {
			continue
		}
		leftW := sumWeights(w[lo : lo+leftLen])
		rightW := sumWeights(w[lo+leftLen : hi])
		diff := diffObjective(leftW, leftCard, leftLen, capacity, rightW, rightCard, rightLen, capacity)
		if bestSplit == -1 || diff < bestDiff {
			bestSplit = leftCard
			bestDiff = diff
		} else if diff == bestDiff {
			// Tie-break toward the midpoint.
			mid := cardinality / 2
			if absInt(leftCard-mid) < absInt(bestSplit-mid) {
				bestSplit = leftCard
			}
		}
	}
	if bestSplit == -1 {
		// No feasible split found (degenerate capacity); fall back to a
		// uniform split rather than leaving the window unplanned.
		planUniform(out[lo:hi], cardinality)
		return
	}

	recurse(out, lo, lo+leftLen, bestSplit, w, capacity, thresholdAt)
	recurse(out, lo+leftLen, hi, cardinality-bestSplit, w, capacity, thresholdAt)
}

// feasible reports whether assigning `card` total entries across `rangeLen`
// segments of capacity `capacity` keeps the range's overall density within
// [lower, upper], leaving room for at least one empty slot per segment
// (empty_slot_margin), via EnsureLowerThreshold/EnsureUpperThreshold.
func feasible(card, rangeLen, capacity int, lower, upper float64) bool {
	if rangeLen == 0 {
		return card == 0
	}
	lo := EnsureLowerThreshold(rangeLen, capacity, lower)
	hi := EnsureUpperThreshold(rangeLen, capacity, upper)
	return card >= lo && card <= hi
}

// EnsureLowerThreshold returns the minimum cardinality a range of rangeLen
// segments of the given capacity may hold without violating the lower
// density bound.
func EnsureLowerThreshold(rangeLen, capacity int, lower float64) int {
	min := int(lower * float64(rangeLen*capacity))
	if min < 0 {
		min = 0
	}
	return min
}

// EnsureUpperThreshold returns the maximum cardinality a range of rangeLen
// segments of the given capacity may hold without violating the upper
// density bound, reserving at least one free slot per segment.
func EnsureUpperThreshold(rangeLen, capacity int, upper float64) int {
	max := int(upper * float64(rangeLen*capacity))
	withMargin := rangeLen*capacity - rangeLen // empty_slot_margin: >= 1 free slot/segment
	if max > withMargin {
		max = withMargin
	}
	return max
}

func diffObjective(leftW, leftCard, leftLen, capL int, rightW, rightCard, rightLen, capR int) float64 {
	leftSlack := float64(leftLen*capL - leftCard)
	rightSlack := float64(rightLen*capR - rightCard)
	var l, r float64
	if leftSlack > 0 {
		l = float64(leftW) / leftSlack
	} else if leftW != 0 {
		l = float64(leftW) * 1e9
	}
	if rightSlack > 0 {
		r = float64(rightW) / rightSlack
	} else if rightW != 0 {
		r = float64(rightW) * 1e9
	}
	d := l - r
	if d < 0 {
		return -d
	}
	return d
}

func sumWeights(w []int) int {
	s := 0
	for _, v := range w {
		s += v
	}
	return s
}

func allZero(w []int) bool {
	for _, v := range w {
		if v != 0 {
			return false
		}
	}
	return true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
