package partition_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma/internal/partition"
	"github.com/indexresearch/apma/internal/weights"
)

func wideThresholds(int) (float64, float64) { return 0.0, 1.0 }

func TestPlanUniformDistributesRemainder(t *testing.T) {
	out := partition.Plan(4, 10, 8, nil, wideThresholds)
	require.Len(t, out, 4)
	sum := 0
	for _, v := range out {
		sum += v
	}
	require.Equal(t, 10, sum)
	// 10/4 = 2 remainder 2: first two segments get 3, rest get 2.
	require.Equal(t, []int{3, 3, 2, 2}, out)
}

func TestPlanUniformExactDivision(t *testing.T) {
	out := partition.Plan(4, 8, 8, nil, wideThresholds)
	require.Equal(t, []int{2, 2, 2, 2}, out)
}

func TestPlanSumsMatchCardinalityWithAdaptiveWeights(t *testing.T) {
	intervals := []weights.Interval{{Start: 3, Length: 2, Weight: 1}}
	out := partition.Plan(8, 20, 8, intervals, wideThresholds)
	require.Len(t, out, 8)
	sum := 0
	for _, v := range out {
		sum += v
	}
	require.Equal(t, 20, sum)
}

func TestPlanSingleSegmentGetsEverything(t *testing.T) {
	out := partition.Plan(1, 5, 8, nil, wideThresholds)
	require.Equal(t, []int{5}, out)
}

func TestEnsureThresholdsClampToFeasibleRange(t *testing.T) {
	require.Equal(t, 0, partition.EnsureLowerThreshold(4, 8, 0.0))
	require.Equal(t, 16, partition.EnsureLowerThreshold(4, 8, 0.5))
	// Upper bound always reserves at least one free slot per segment.
	require.Equal(t, 28, partition.EnsureUpperThreshold(4, 8, 1.0))
	require.Equal(t, 16, partition.EnsureUpperThreshold(4, 8, 0.5))
}

func TestPlanRespectsDensityThresholdsWhenHammered(t *testing.T) {
	narrow := func(rangeLen int) (float64, float64) { return 0.2, 0.8 }
	intervals := []weights.Interval{{Start: 0, Length: 1, Weight: 1}}
	out := partition.Plan(4, 16, 8, intervals, narrow)
	sum := 0
	for i, v := range out {
		sum += v
		require.GreaterOrEqual(t, v, partition.EnsureLowerThreshold(1, 8, 0.2), "segment %d below lower threshold", i)
		require.LessOrEqual(t, v, partition.EnsureUpperThreshold(1, 8, 0.8), "segment %d above upper threshold", i)
	}
	require.Equal(t, 16, sum)
}
