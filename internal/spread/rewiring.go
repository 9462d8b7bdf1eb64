package spread

import (
	"unsafe"

	"github.com/indexresearch/apma/internal/memorypool"
	"github.com/indexresearch/apma/internal/rewiring"
)

// bufInt64s reinterprets the first n*8 bytes of buf as an []int64. Panics
// if buf doesn't have enough bytes; callers size extents to
// segsPerExtent*capacity before calling.
func bufInt64s(buf []byte, n int) []int64 {
	if n == 0 {
		return nil
	}
	if n*8 > len(buf) {
		panic("spread: extent buffer too small for requested int64 count")
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&buf[0])), n)
}

func segmentsPerExtent(extentBytes, capacity int) int {
	bytesPerSegment := capacity * 8
	n := extentBytes / bytesPerSegment
	if n < 1 {
		n = 1
	}
	return n
}

// Rewiring executes the same contract as InPlace — same window, plan and
// pending semantics, same Result — but stages the write-back half of the
// rebalance extent by extent, from right to left, through memKeys and
// memValues instead of committing the whole window through one scratch
// array at once.
//
// Correctness requires every live entry in the window to be captured
// before any segment is overwritten; InPlace's single left-to-right
// gather already reads the whole window in one pass (a contiguous sweep
// thanks to parity packing), so Rewiring reuses it as the read phase and
// differs only in the write phase. Because Storage keeps its backing
// arrays as ordinary Go slices rather than memory the OS can remap, the
// final commit into a segment (WriteSegment) is still a copy. The write
// phase runs right to left, acquiring a fresh keys/values buffer pair per
// extent and swapping it under the previous extent's virtual address via
// SwapAndRelease, which returns that extent's file offset to the freelist;
// each backing file therefore holds at most two extents during a call.
// The whole window is still gathered into pool scratch arrays first, so
// extra memory grows with the window's cardinality, and the
// page-remapping benefit itself only materializes for an OS-paged store.
func Rewiring(memKeys, memValues rewiring.Memory, pool *memorypool.Pool, st Storage, idx Index, det Detector, w Window, totalSegments int, plan []int, pending *Pending) (Result, error) {
	card := windowCardinality(st, w)
	if pending != nil {
		card++
	}
	keysBlock := pool.AllocateAligned(card*8, 8)
	valuesBlock := pool.AllocateAligned(card*8, 8)
	defer pool.Release(keysBlock)
	defer pool.Release(valuesBlock)

	scratchKeys := memorypool.Int64s(keysBlock, card)
	scratchValues := memorypool.Int64s(valuesBlock, card)
	gatherInto(st, w, pending, scratchKeys, scratchValues)

	capacity := st.Capacity()
	segsPerExtent := min(segmentsPerExtent(memKeys.ExtentSize(), capacity), segmentsPerExtent(memValues.ExtentSize(), capacity))

	offsets := make([]int, w.Length+1)
	for j, cnt := range plan {
		offsets[j+1] = offsets[j] + cnt
	}

	res := Result{PivotChanged: make([]bool, w.Length), Pivots: make([]int64, w.Length)}

	var prevKeysBuf, prevValuesBuf *rewiring.Buffer
	releasePrev := func() error {
		if prevKeysBuf == nil {
			return nil
		}
		if err := memKeys.Release(*prevKeysBuf); err != nil {
			return err
		}
		if err := memValues.Release(*prevValuesBuf); err != nil {
			return err
		}
		prevKeysBuf, prevValuesBuf = nil, nil
		return nil
	}

	numExtents := (w.Length + segsPerExtent - 1) / segsPerExtent
	for e := numExtents - 1; e >= 0; e-- {
		localStart := e * segsPerExtent
		localEnd := localStart + segsPerExtent
		if localEnd > w.Length {
			localEnd = w.Length
		}
		segCount := localEnd - localStart
		slotCount := segCount * capacity

		kb, err := memKeys.AcquireBuffer()
		if err != nil {
			_ = releasePrev()
			return Result{}, err
		}
		vb, err := memValues.AcquireBuffer()
		if err != nil {
			_ = memKeys.Release(kb)
			_ = releasePrev()
			return Result{}, err
		}

		extKeys := bufInt64s(kb.Bytes, slotCount)
		extValues := bufInt64s(vb.Bytes, slotCount)
		copy(extKeys, scratchKeys[offsets[localStart]:offsets[localEnd]])
		copy(extValues, scratchValues[offsets[localStart]:offsets[localEnd]])

		if prevKeysBuf != nil {
			// Recycle the previous (rightward) extent's virtual address:
			// this extent's freshly filled buffer takes over that address,
			// and the previous extent's old frames are released. This is
			// the "queue a swap, execute once the read pointer has passed"
			// step, specialized to a single rolling buffer since the read
			// phase already completed above.
			swappedKeys, err := memKeys.SwapAndRelease(*prevKeysBuf, kb)
			if err != nil {
				_ = memKeys.Release(kb)
				_ = memValues.Release(vb)
				_ = releasePrev()
				return Result{}, err
			}
			swappedValues, err := memValues.SwapAndRelease(*prevValuesBuf, vb)
			if err != nil {
				_ = memKeys.Release(swappedKeys)
				_ = memValues.Release(vb)
				return Result{}, err
			}
			kb, vb = swappedKeys, swappedValues
		}
		prevKeysBuf, prevValuesBuf = &kb, &vb

		offset := offsets[localStart]
		for j := localStart; j < localEnd; j++ {
			i := w.Start + j
			cnt := plan[j]
			lo := offsets[j] - offset
			hi := offsets[j+1] - offset
			st.WriteSegment(i, extKeys[lo:hi], extValues[lo:hi])
			if cnt > 0 {
				pivot := extKeys[lo]
				res.PivotChanged[j] = true
				res.Pivots[j] = pivot
				if i == 0 {
					idx.SetMinKey(pivot)
				} else {
					idx.SetPivot(i, pivot)
				}
			}
		}
	}
	if err := releasePrev(); err != nil {
		return Result{}, err
	}

	if w.Length == totalSegments {
		det.ClearRange(w.Start, w.Length)
	}
	return res, nil
}
