package staticindex_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma/internal/staticindex"
)

func TestEmptyIndexFindsZero(t *testing.T) {
	x := staticindex.New(4)
	require.Equal(t, 0, x.Find(42))
	require.Equal(t, 0, x.FindFirst(42))
	require.Equal(t, 0, x.FindLast(42))
}

func TestFindMatchesBruteForce(t *testing.T) {
	rand.Seed(1)
	for _, fanout := range []int{3, 4, 8, 64} {
		for trial := 0; trial < 20; trial++ {
			n := rand.Intn(200) + 1
			pivots := make([]int64, n) // pivots[0] unused
			cur := int64(rand.Intn(3))
			for i := 1; i < n; i++ {
				cur += int64(rand.Intn(3)) // ascending, allows duplicates
				pivots[i] = cur
			}
			x := staticindex.New(fanout)
			x.Rebuild(n)
			x.SetMinKey(pivots[0] - 1)
			for i := 1; i < n; i++ {
				x.SetPivot(i, pivots[i])
			}

			bruteFind := func(k int64) int {
				idx := sort.Search(n-1, func(i int) bool { return pivots[i+1] > k })
				return idx
			}
			bruteFindFirst := func(k int64) int {
				idx := sort.Search(n-1, func(i int) bool { return pivots[i+1] >= k })
				return idx
			}

			for _, k := range []int64{-1, 0, cur, cur + 1, cur / 2} {
				require.Equal(t, bruteFind(k), x.Find(k), "fanout=%d n=%d k=%d", fanout, n, k)
				require.Equal(t, bruteFindFirst(k), x.FindFirst(k), "fanout=%d n=%d k=%d", fanout, n, k)
				require.Equal(t, bruteFind(k), x.FindLast(k), "fanout=%d n=%d k=%d", fanout, n, k)
			}
		}
	}
}

func TestSetPivotOutOfRangePanics(t *testing.T) {
	x := staticindex.New(4)
	x.Rebuild(4)
	require.Panics(t, func() { x.SetPivot(10, 1) })
}
