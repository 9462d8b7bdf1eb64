package storage_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma/internal/storage"
)

// assertPacking checks that segment i's live run holds SegmentSize(i)
// entries in ascending order. Where the run sits inside the segment
// (invariant 5, parity-packing) follows from LiveKeys's own parity rule and
// is not observable from this package.
func assertPacking(t *testing.T, s *storage.Storage, i int) {
	t.Helper()
	size := s.SegmentSize(i)
	keys := s.LiveKeys(i)
	require.Len(t, keys, size)
	for j := 1; j < len(keys); j++ {
		require.LessOrEqual(t, keys[j-1], keys[j], "segment %d not sorted", i)
	}
}

func TestSegmentInsertKeepsSortedOrderBothParities(t *testing.T) {
	for _, seg := range []int{0, 1} { // even, odd
		s := storage.New(2, 8)
		order := []int64{50, 10, 30, 20, 40}
		for _, k := range order {
			s.SegmentInsert(seg, k, k*100)
		}
		assertPacking(t, s, seg)
		keys := s.LiveKeys(seg)
		require.Equal(t, []int64{10, 20, 30, 40, 50}, keys)
		vals := s.LiveValues(seg)
		for i, k := range keys {
			require.Equal(t, k*100, vals[i])
		}
	}
}

func TestSegmentInsertPivotChangeReporting(t *testing.T) {
	s := storage.New(1, 8)
	changed := s.SegmentInsert(0, 50, 1)
	require.True(t, changed, "first insert always introduces the pivot")
	changed = s.SegmentInsert(0, 60, 1)
	require.False(t, changed)
	changed = s.SegmentInsert(0, 10, 1)
	require.True(t, changed, "inserting a new minimum changes the pivot")
}

func TestSegmentRemoveRestoresPacking(t *testing.T) {
	for _, seg := range []int{0, 1} {
		s := storage.New(2, 8)
		for _, k := range []int64{10, 20, 30, 40, 50} {
			s.SegmentInsert(seg, k, k)
		}
		v, found, pivotChanged := s.SegmentRemove(seg, 10)
		require.True(t, found)
		require.Equal(t, int64(10), v)
		require.True(t, pivotChanged)
		assertPacking(t, s, seg)
		require.Equal(t, []int64{20, 30, 40, 50}, s.LiveKeys(seg))

		_, found, pivotChanged = s.SegmentRemove(seg, 30)
		require.True(t, found)
		require.False(t, pivotChanged)
		assertPacking(t, s, seg)
		require.Equal(t, []int64{20, 40, 50}, s.LiveKeys(seg))

		_, found, _ = s.SegmentRemove(seg, 999)
		require.False(t, found)
	}
}

func TestSegmentFullPanicsOnOverflow(t *testing.T) {
	s := storage.New(1, 2)
	s.SegmentInsert(0, 1, 1)
	s.SegmentInsert(0, 2, 1)
	require.True(t, s.SegmentFull(0))
	require.Panics(t, func() { s.SegmentInsert(0, 3, 1) })
}

func TestRandomizedInsertRemoveMatchesReferenceSet(t *testing.T) {
	rand.Seed(2)
	for _, seg := range []int{0, 1} {
		s := storage.New(2, 64)
		present := map[int64]int64{}
		for step := 0; step < 500; step++ {
			if len(present) > 0 && rand.Intn(3) == 0 {
				var victim int64
				for k := range present {
					victim = k
					break
				}
				v, found, _ := s.SegmentRemove(seg, victim)
				require.True(t, found)
				require.Equal(t, present[victim], v)
				delete(present, victim)
			} else if !s.SegmentFull(seg) {
				k := rand.Int63n(1000)
				if _, dup := present[k]; dup {
					continue
				}
				s.SegmentInsert(seg, k, k+1)
				present[k] = k + 1
			}
			assertPacking(t, s, seg)
			require.Equal(t, len(present), s.SegmentSize(seg))
		}
	}
}

func TestWriteSegmentHonoursParity(t *testing.T) {
	s := storage.New(2, 8)
	s.WriteSegment(1, []int64{1, 2, 3}, []int64{10, 20, 30})
	require.Equal(t, []int64{1, 2, 3}, s.LiveKeys(1))
	require.Equal(t, int64(3), s.Cardinality())

	s.WriteSegment(0, []int64{4, 5}, []int64{40, 50})
	require.Equal(t, []int64{4, 5}, s.LiveKeys(0))
	require.Equal(t, int64(5), s.Cardinality())
}

func TestCardinalityTracksAcrossSegments(t *testing.T) {
	s := storage.New(4, 8)
	s.SegmentInsert(0, 1, 1)
	s.SegmentInsert(2, 2, 2)
	s.SegmentInsert(3, 3, 3)
	require.Equal(t, int64(3), s.Cardinality())
	s.SegmentRemove(2, 2)
	require.Equal(t, int64(2), s.Cardinality())
	s.ClearSegment(3)
	require.Equal(t, int64(1), s.Cardinality())
}

func TestHeightIsLog2NPlusOne(t *testing.T) {
	require.Equal(t, 1, storage.New(1, 8).Height())
	require.Equal(t, 2, storage.New(2, 8).Height())
	require.Equal(t, 3, storage.New(4, 8).Height())
	require.Equal(t, 5, storage.New(16, 8).Height())
}
