package apma_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma"
	"github.com/indexresearch/apma/internal/abtree"
)

func open(t *testing.T, opts apma.Options) *apma.PMA {
	t.Helper()
	p, err := apma.Open(opts)
	require.NoError(t, err)
	return p
}

// checkOrdered drains a full-range Range call and asserts ascending
// order, matching it against the reference map's sorted keys: the
// "ordered scan" and "sum = iterate+accumulate" properties of spec.md §8.
func checkOrdered(t *testing.T, p *apma.PMA, present map[int64]int64) {
	t.Helper()
	var wantKeys []int64
	for k := range present {
		wantKeys = append(wantKeys, k)
	}
	sort.Slice(wantKeys, func(i, j int) bool { return wantKeys[i] < wantKeys[j] })

	it := p.Range(apma.NotFound+1, 1<<62)
	var gotKeys []int64
	var sumKeys, sumVals int64
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		gotKeys = append(gotKeys, k)
		sumKeys += k
		sumVals += v
		require.Equal(t, present[k], v)
	}
	require.Equal(t, wantKeys, gotKeys)

	sum := p.Sum(apma.NotFound+1, 1<<62)
	require.Equal(t, int64(len(wantKeys)), sum.Count)
	require.Equal(t, sumKeys, sum.SumKeys)
	require.Equal(t, sumVals, sum.SumValues)
	require.Equal(t, int64(len(present)), p.Size())
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := apma.Open(apma.Options{SegmentCapacity: -1})
	require.Error(t, err)

	_, err = apma.Open(apma.Options{SegmentCapacity: 8, NodeFanout: 2})
	require.Error(t, err)

	// SegmentCapacity above the maximum is clamped to the largest in-range
	// power of two (spec §6) rather than rejected.
	p, err := apma.Open(apma.Options{SegmentCapacity: 70000, NodeFanout: 4})
	require.NoError(t, err)
	require.NotNil(t, p)
}

// TestSequentialInsertFindSum is spec.md §8's S1: C=8 sequential inserts,
// checking Find after every insert and Sum over the whole range.
func TestSequentialInsertFindSum(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	present := map[int64]int64{}
	for k := int64(0); k < 200; k++ {
		p.Insert(k, k*10)
		present[k] = k * 10
		for existing, v := range present {
			got, ok := p.Find(existing)
			require.True(t, ok)
			require.Equal(t, v, got)
		}
		p.CheckInvariants("S1 insert")
	}
	checkOrdered(t, p, present)
}

// TestRandomPermutationRoundTrip is spec.md §8's S2: a random permutation
// of [1, 1033], inserted in that order, with a full-range scan/sum check
// and one sub-range Sum check.
func TestRandomPermutationRoundTrip(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	order := rand.New(rand.NewSource(42)).Perm(1033)
	present := map[int64]int64{}
	for _, k := range order {
		key := int64(k + 1)
		p.Insert(key, key*2)
		present[key] = key * 2
	}
	require.Equal(t, int64(1033), p.Size())
	checkOrdered(t, p, present)

	sum := p.Sum(100, 200)
	var wantCount, wantSum int64
	for k, v := range present {
		if k >= 100 && k <= 200 {
			wantCount++
			wantSum += v
		}
	}
	require.Equal(t, wantCount, sum.Count)
	require.Equal(t, wantSum, sum.SumValues)
}

// TestDuplicateKeyRangeScan is spec.md §8's S3: duplicate keys must all
// surface from a range scan that covers them.
func TestDuplicateKeyRangeScan(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	for i := 0; i < 5; i++ {
		p.Insert(7, int64(i))
	}
	p.Insert(3, 300)
	p.Insert(11, 1100)

	it := p.Range(7, 7)
	count := 0
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		require.Equal(t, int64(7), k)
		count++
	}
	require.Equal(t, 5, count)
}

// TestInsertRemoveAlternationMaintainsInvariants is spec.md §8's S4:
// a randomized interleaving of inserts and removes, asserting
// density/ordering/cardinality invariants after every step via
// CheckInvariants and a reference map comparison.
func TestInsertRemoveAlternationMaintainsInvariants(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	present := map[int64]int64{}
	r := rand.New(rand.NewSource(7))
	for step := 0; step < 4000; step++ {
		if len(present) > 0 && r.Intn(3) == 0 {
			var victim int64
			for k := range present {
				victim = k
				break
			}
			v, ok := p.Remove(victim)
			require.True(t, ok)
			require.Equal(t, present[victim], v)
			delete(present, victim)
		} else {
			k := r.Int63n(2000)
			if _, dup := present[k]; dup {
				continue
			}
			v := k * 3
			p.Insert(k, v)
			present[k] = v
		}
		require.Equal(t, int64(len(present)), p.Size())
		p.CheckInvariants("S4 insert/remove alternation")
	}
	checkOrdered(t, p, present)

	for k, v := range present {
		got, ok := p.Find(k)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
	_, ok := p.Find(987654321)
	require.False(t, ok)
}

// TestRemoveNotFound exercises the "not found" binding of §7: a miss
// returns (0, false), never an error.
func TestRemoveNotFound(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	p.Insert(1, 1)
	_, ok := p.Remove(2)
	require.False(t, ok)
	v, ok := p.Remove(1)
	require.True(t, ok)
	require.Equal(t, int64(1), v)
}

// TestSequentialAppendTriggersAdaptiveSpread is spec.md §8's S5: a long
// run of strictly increasing keys hammers the rightmost segments. The test
// asserts that every entry is kept and that sampled lookups return the
// right values; the Detector's state and the density bounds are not
// checked here.
func TestSequentialAppendTriggersAdaptiveSpread(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 16, NodeFanout: 8})
	for k := int64(0); k < 5000; k++ {
		p.Insert(k, k)
	}
	require.Equal(t, int64(5000), p.Size())
	for k := int64(0); k < 5000; k += 37 {
		v, ok := p.Find(k)
		require.True(t, ok)
		require.Equal(t, k, v)
	}
}

// TestZipfianWorkloadStaysWithinCapacity is spec.md §8's S6: a skewed
// (Zipfian) insert workload shouldn't overflow any segment's capacity or
// break ordering, whether or not adaptive planning actually improves
// write locality (that's a performance property, not a correctness one,
// and isn't asserted here).
func TestZipfianWorkloadStaysWithinCapacity(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	r := rand.New(rand.NewSource(99))
	z := rand.NewZipf(r, 1.5, 1, 9999)
	present := map[int64]int64{}
	for i := 0; i < 3000; i++ {
		k := int64(z.Uint64())
		if _, dup := present[k]; dup {
			continue
		}
		p.Insert(k, k)
		present[k] = k
	}
	checkOrdered(t, p, present)
}

// TestDifferentialAgainstArenaBTree cross-checks the APMA core against
// the independently-written arena-indexed B+-tree (internal/abtree) over
// the same randomized insert/remove/range workload, per SPEC_FULL.md
// §4.11's differential-testing intent.
func TestDifferentialAgainstArenaBTree(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	tr := abtree.New(5)
	r := rand.New(rand.NewSource(123))
	present := map[int64]int64{}
	for step := 0; step < 3000; step++ {
		if len(present) > 0 && r.Intn(4) == 0 {
			var victim int64
			for k := range present {
				victim = k
				break
			}
			pv, pok := p.Remove(victim)
			tv, tok := tr.Remove(victim)
			require.Equal(t, tok, pok)
			require.Equal(t, tv, pv)
			delete(present, victim)
		} else {
			k := r.Int63n(1000)
			if _, dup := present[k]; dup {
				continue
			}
			v := k + 1
			p.Insert(k, v)
			tr.Insert(k, v)
			present[k] = v
		}
		require.Equal(t, tr.Size(), int(p.Size()))
	}

	pit := p.Range(apma.NotFound+1, 1<<62)
	tit := tr.Range(apma.NotFound+1, 1<<62)
	for {
		pk, pv, pok := pit.Next()
		tk, tv, tok := tit.Next()
		require.Equal(t, tok, pok)
		if !pok {
			break
		}
		require.Equal(t, tk, pk)
		require.Equal(t, tv, pv)
	}
}

func TestCloseIsIdempotentWithoutRewiring(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestMemoryFootprintGrowsWithSize(t *testing.T) {
	p := open(t, apma.Options{SegmentCapacity: 8, NodeFanout: 4})
	before := p.MemoryFootprint()
	for k := int64(0); k < 500; k++ {
		p.Insert(k, k)
	}
	require.Greater(t, p.MemoryFootprint(), before)
}
