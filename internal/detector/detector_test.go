package detector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma/internal/detector"
)

func TestRecordAdvancesRingAndSegCount(t *testing.T) {
	d := detector.New(2)
	d.Record(0, true, 10, 20)
	require.Equal(t, int32(1), d.SegCount(0))
	d.Record(0, true, 10, 20)
	require.Equal(t, int32(2), d.SegCount(0))
	require.Equal(t, int32(0), d.SegCount(1))
}

func TestSegCountSaturates(t *testing.T) {
	d := detector.NewSized(1, 8, 3, 8)
	for i := 0; i < 10; i++ {
		d.Record(0, true, int64(i), int64(i+1))
	}
	require.Equal(t, int32(3), d.SegCount(0))
}

func TestSegCountDecaysFasterAgainstTrend(t *testing.T) {
	d := detector.NewSized(1, 8, 10, 8)
	for i := 0; i < 5; i++ {
		d.Record(0, true, int64(i), int64(i+1))
	}
	require.Equal(t, int32(5), d.SegCount(0))
	d.Record(0, false, 100, 101)
	require.Equal(t, int32(3), d.SegCount(0), "opposing step should decay by 2")
	d.Record(0, true, 200, 201)
	require.Equal(t, int32(4), d.SegCount(0), "reinforcing step should grow by 1")
}

func TestFwdBwdCountTrackMatchingSuccessorPredecessor(t *testing.T) {
	d := detector.New(1)
	d.Record(0, true, 5, 6) // first record always resets both
	require.Equal(t, int64(5), d.FwdKey(0))
	require.Equal(t, int64(6), d.BwdKey(0))

	d.Record(0, true, 5, 7) // predecessor matches fwd_key
	require.Equal(t, int32(1), d.FwdCount(0))

	d.Record(0, true, 99, 6) // successor matches bwd_key
	require.Equal(t, int32(1), d.BwdCount(0))
}

func TestTimestampsAndMinTimestamp(t *testing.T) {
	d := detector.NewSized(1, 4, 10, 8)
	for i := 0; i < 3; i++ {
		d.Record(0, true, int64(i), int64(i+1))
	}
	ts := d.Timestamps(0)
	require.Len(t, ts, 3)
	require.Equal(t, int64(1), d.MinTimestamp(0))
}

func TestClearZeroesEntry(t *testing.T) {
	d := detector.New(1)
	d.Record(0, true, 1, 2)
	d.Clear(0)
	require.Equal(t, int32(0), d.SegCount(0))
	require.Empty(t, d.Timestamps(0))
	require.Equal(t, int64(0), d.FwdKey(0))
}

func TestMoveCopiesAndClearsSource(t *testing.T) {
	d := detector.New(2)
	d.Record(0, true, 1, 2)
	d.Record(0, true, 1, 3)
	d.Move(0, 1)
	require.Equal(t, int32(0), d.SegCount(0))
	require.Equal(t, int32(2), d.SegCount(1))
	require.Equal(t, d.Timestamps(1), []int64{1, 2})
}

func TestResizeClearsAllEntries(t *testing.T) {
	d := detector.New(2)
	d.Record(0, true, 1, 2)
	d.Resize(4)
	require.Equal(t, 4, d.N())
	for i := 0; i < 4; i++ {
		require.Equal(t, int32(0), d.SegCount(i))
	}
}
