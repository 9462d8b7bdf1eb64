package apma

import "sort"

// Iterator walks live entries in ascending key order over a bounded key
// range, spanning segments transparently. Obtained from PMA.Range.
type Iterator struct {
	p          *PMA
	seg        int
	pos        int
	max        int64
	keys, vals []int64
	exhausted  bool
}

// Range returns an Iterator over entries with key in [min, max].
func (p *PMA) Range(min, max int64) *Iterator {
	it := &Iterator{p: p, max: max}
	if p.storage.Cardinality() == 0 || min > max {
		it.exhausted = true
		return it
	}
	it.seg = p.index.FindFirst(min)
	it.loadSegment()
	it.pos = sort.Search(len(it.keys), func(j int) bool { return it.keys[j] >= min })
	return it
}

func (it *Iterator) loadSegment() {
	if it.seg >= it.p.storage.NumSegments() {
		it.keys, it.vals = nil, nil
		return
	}
	it.keys = it.p.storage.LiveKeys(it.seg)
	it.vals = it.p.storage.LiveValues(it.seg)
}

// Next returns the next (key, value) pair in the range, or ok=false once
// the range is exhausted.
func (it *Iterator) Next() (key, value int64, ok bool) {
	if it.exhausted {
		return 0, 0, false
	}
	for {
		if it.seg >= it.p.storage.NumSegments() {
			it.exhausted = true
			return 0, 0, false
		}
		if it.pos >= len(it.keys) {
			it.seg++
			it.pos = 0
			it.loadSegment()
			continue
		}
		k := it.keys[it.pos]
		if k > it.max {
			it.exhausted = true
			return 0, 0, false
		}
		v := it.vals[it.pos]
		it.pos++
		return k, v, true
	}
}

// Sum aggregates over entries with key in [min, max] (spec.md §6's Sum
// operation), built on the same segment walk as Range.
func (p *PMA) Sum(min, max int64) SumResult {
	it := p.Range(min, max)
	var res SumResult
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		if !res.Found {
			res.First = k
			res.Found = true
		}
		res.Last = k
		res.Count++
		res.SumKeys += k
		res.SumValues += v
	}
	return res
}
