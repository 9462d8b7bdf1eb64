// Package apma implements the Adaptive Packed Memory Array (APMA): a
// sparse, sorted, segmented in-memory index over int64 key/value pairs
// that keeps insert/remove/range operations close to the density of a
// plain sorted array while bounding amortized update cost, by rebalancing
// only the smallest window of segments a CalibratorTree walk finds
// sufficient and biasing that rebalance toward a Detector's read of which
// segments are being hammered (internal/weights, internal/partition).
//
// A PMA is built from the collaborators in internal/: internal/storage
// holds the segmented array itself, internal/staticindex maps a key to
// its segment, internal/detector and internal/weights turn update history
// into a rebalance bias, internal/calibrator finds the window to
// rebalance, internal/partition plans its post-rebalance cardinalities,
// and internal/spread executes the plan (in place, or via
// internal/rewiring's page remapping when Options.UseRewiring and the
// platform support it).
package apma

import (
	"sort"

	"github.com/indexresearch/apma/internal/calibrator"
	"github.com/indexresearch/apma/internal/detector"
	"github.com/indexresearch/apma/internal/memorypool"
	"github.com/indexresearch/apma/internal/partition"
	"github.com/indexresearch/apma/internal/rewiring"
	"github.com/indexresearch/apma/internal/spread"
	"github.com/indexresearch/apma/internal/staticindex"
	"github.com/indexresearch/apma/internal/storage"
	"github.com/indexresearch/apma/internal/weights"
)

// NotFound is the sentinel position reference operations return in place
// of a found value. The Go binding replaces it with an (value, ok bool)
// pair at every public method; NotFound remains exported for callers that
// want the reference sentinel form.
const NotFound int64 = -1

const defaultNodeFanout = 64

// primaryCutoffSegments is the segment count above which density
// thresholds switch from the "user" family to the narrower "primary"
// family (spec.md §3), matching the teacher's two-table design.
const primaryCutoffSegments = 1 << 12

// defaultPoolBytes sizes a PMA's scratch MemoryPool generously enough that
// a full-storage resize/spread at a moderate segment count never spills
// to the pool's external-allocation fallback in the common case; it is
// not a hard bound (memorypool.Pool falls back to make() past capacity).
func defaultPoolBytes(capacity int) int {
	return 64 * capacity * 8 * 2
}

// Entry is a single key/value pair, mirroring internal/storage.Entry at
// the public boundary.
type Entry struct {
	Key, Value int64
}

// SumResult reports an aggregate over a key range (spec.md §6's Sum
// operation): the running totals alongside the count and the range's
// first/last observed keys, so a caller can confirm the range that was
// actually summed without a separate Range pass.
type SumResult struct {
	Count              int64
	SumKeys, SumValues int64
	First, Last        int64
	Found              bool
}

// PMA is an open Adaptive Packed Memory Array. Not safe for concurrent
// use (matches the teacher's single-threaded collaborators throughout
// internal/).
type PMA struct {
	opts     Options
	capacity int

	storage  *storage.Storage
	index    *staticindex.Index
	detector *detector.Detector
	pool     *memorypool.Pool

	rewireKeys, rewireValues rewiring.Memory
}

// Open creates an empty PMA per opts, validated and normalized per §7's
// "Invalid construction" binding.
func Open(opts Options) (*PMA, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	p := &PMA{
		opts:     opts,
		capacity: opts.SegmentCapacity,
		storage:  storage.New(1, opts.SegmentCapacity),
		index:    staticindex.New(opts.NodeFanout),
		detector: detector.New(1),
		pool:     memorypool.New(defaultPoolBytes(opts.SegmentCapacity)),
	}
	p.index.Rebuild(1)

	if opts.UseRewiring && rewiring.Supported() {
		extent := extentBytesFor(opts.SegmentCapacity)
		mk, err := rewiring.Open("apma-keys", extent)
		if err == nil {
			mv, err2 := rewiring.Open("apma-values", extent)
			if err2 == nil {
				p.rewireKeys, p.rewireValues = mk, mv
			} else {
				mk.Close()
			}
		}
		// Open failing (or unsupported) falls back to the copy-based
		// spread for every rebalance, per §9 design note 5.
	}
	return p, nil
}

func extentBytesFor(capacity int) int {
	// One extent holds a handful of segments' worth of int64s; kept small
	// so the rolling-buffer recycling in internal/spread.Rewiring actually
	// exercises more than one extent on realistic window sizes.
	const segmentsPerExtent = 4
	return segmentsPerExtent * capacity * 8
}

// Close releases the PMA's rewiring resources, if any were acquired.
func (p *PMA) Close() error {
	var firstErr error
	if p.rewireKeys != nil {
		if err := p.rewireKeys.Close(); err != nil {
			firstErr = err
		}
	}
	if p.rewireValues != nil {
		if err := p.rewireValues.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Size returns the total number of live key/value pairs.
func (p *PMA) Size() int64 { return p.storage.Cardinality() }

// MemoryFootprint returns the approximate number of bytes the PMA
// currently occupies: the segmented array, the StaticIndex's sampled
// levels, the Detector's ring buffers, and the scratch pool's arena.
func (p *PMA) MemoryFootprint() int64 {
	total := p.storage.MemoryFootprint()
	total += int64(p.index.N()) * 8 // one int64 pivot per indexed segment, amortized across levels
	total += int64(p.storage.NumSegments()) * int64(p.detector.RingSize()) * 8
	total += int64(p.pool.Capacity())
	return total
}

// useRewiring reports whether this PMA should use the page-remapping
// Spread variant for its next rebalance.
func (p *PMA) useRewiring() bool {
	return p.opts.UseRewiring && p.rewireKeys != nil && p.rewireValues != nil
}

// tableFor returns the density threshold table for the PMA's current
// size: the narrower "primary" family once N exceeds the cutoff, the
// "user" family otherwise (spec.md §3).
func (p *PMA) tableFor() calibrator.Table {
	h := p.storage.Height()
	if p.storage.NumSegments() > primaryCutoffSegments {
		return calibrator.DefaultPrimaryTable(h)
	}
	return calibrator.DefaultUserTable(h)
}

// heightForLength returns the calibrator height of a run of n segments,
// generalizing Storage.Height to an arbitrary sub-range length.
func heightForLength(n int) int {
	h := 1
	for n > 1 {
		h++
		n >>= 1
	}
	return h
}

func thresholdAtFactory(table calibrator.Table) func(int) (float64, float64) {
	return func(rangeLen int) (float64, float64) {
		th := table.At(heightForLength(rangeLen))
		return th.Lower, th.Upper
	}
}

// neighborsForInsert returns the keys immediately before/after where key
// would land in segment seg's current live run, for Detector.Record. It
// looks only within the segment (not across segment boundaries); at a
// segment edge it reports key itself, the sentinel §4.5 suggests for
// "none".
func (p *PMA) neighborsForInsert(seg int, key int64) (predecessor, successor int64) {
	keys := p.storage.LiveKeys(seg)
	pos := sort.Search(len(keys), func(j int) bool { return keys[j] >= key })
	predecessor, successor = key, key
	if pos > 0 {
		predecessor = keys[pos-1]
	}
	if pos < len(keys) {
		successor = keys[pos]
	}
	return predecessor, successor
}

// neighborsForRemove is neighborsForInsert's counterpart for a key
// already present in segment seg: it reports the keys flanking key's own
// slot rather than the slot it would be inserted at.
func (p *PMA) neighborsForRemove(seg int, key int64) (predecessor, successor int64) {
	keys := p.storage.LiveKeys(seg)
	pos := sort.Search(len(keys), func(j int) bool { return keys[j] >= key })
	predecessor, successor = key, key
	if pos > 0 {
		predecessor = keys[pos-1]
	}
	if pos+1 < len(keys) {
		successor = keys[pos+1]
	}
	return predecessor, successor
}

// Insert adds (key, value). Duplicate keys are permitted, landing after
// any existing equal keys (matches internal/storage.SegmentInsert's
// tie-break).
func (p *PMA) Insert(key, value int64) {
	if p.storage.Cardinality() == 0 {
		p.storage.SegmentInsert(0, key, value)
		p.index.SetMinKey(key)
		p.detector.Record(0, true, key, key)
		if debugChecks {
			p.checkInvariants("Insert (first)")
		}
		return
	}

	seg := p.index.Find(key)
	if p.storage.SegmentFull(seg) {
		p.rebalanceInsert(seg, key, value)
		if debugChecks {
			p.checkInvariants("Insert (rebalance)")
		}
		return
	}

	predecessor, successor := p.neighborsForInsert(seg, key)
	pivotChanged := p.storage.SegmentInsert(seg, key, value)
	if pivotChanged {
		p.setPivot(seg, key)
	}
	p.detector.Record(seg, true, predecessor, successor)
	if debugChecks {
		p.checkInvariants("Insert")
	}
}

// Remove deletes an entry matching key, if any: the first match in the
// segment the StaticIndex maps key to. When duplicates of key span several
// segments, that is the last of those segments.
func (p *PMA) Remove(key int64) (int64, bool) {
	if p.storage.Cardinality() == 0 {
		return 0, false
	}
	seg := p.index.Find(key)
	predecessor, successor := p.neighborsForRemove(seg, key)

	value, found, pivotChanged := p.storage.SegmentRemove(seg, key)
	if !found {
		return 0, false
	}
	if pivotChanged && p.storage.SegmentSize(seg) > 0 {
		p.setPivot(seg, p.storage.SegmentPivot(seg))
	}
	p.detector.Record(seg, false, predecessor, successor)

	if p.storage.SegmentSize(seg) < p.capacity/2 {
		p.rebalanceRemove(seg)
	}
	if debugChecks {
		p.checkInvariants("Remove")
	}
	return value, true
}

func (p *PMA) setPivot(seg int, key int64) {
	if seg == 0 {
		p.index.SetMinKey(key)
	} else {
		p.index.SetPivot(seg, key)
	}
}

// Find returns the value of an entry matching key, if any: the first match
// in the segment the StaticIndex maps key to (see Remove).
func (p *PMA) Find(key int64) (int64, bool) {
	if p.storage.Cardinality() == 0 {
		return 0, false
	}
	seg := p.index.Find(key)
	return p.storage.SegmentFind(seg, key)
}

// rebalanceInsert walks the calibrator tree from the full segment seg,
// either spreading the window it finds (merging in the pending insert)
// or growing the whole structure when no window satisfies the upper
// density threshold.
func (p *PMA) rebalanceInsert(seg int, key, value int64) {
	table := p.tableFor()
	wr := calibrator.Walk(p.storage, p.storage.NumSegments(), p.capacity, p.storage.Height(), seg, true, table)
	pending := &spread.Pending{Key: key, Value: value}
	if wr.Resize {
		p.resize(p.storage.NumSegments()*2, pending)
		return
	}
	p.spreadWindow(wr.Start, wr.Length, pending)
}

// rebalanceRemove is rebalanceInsert's counterpart for a thinned segment:
// no pending entry (the removal already happened), and a Resize shrinks
// the structure instead of growing it.
func (p *PMA) rebalanceRemove(seg int) {
	table := p.tableFor()
	wr := calibrator.Walk(p.storage, p.storage.NumSegments(), p.capacity, p.storage.Height(), seg, false, table)
	if wr.Resize {
		newN := p.storage.NumSegments() / 2
		if newN < 1 {
			return
		}
		p.resize(newN, nil)
		return
	}
	p.spreadWindow(wr.Start, wr.Length, nil)
}

// spreadWindow plans and executes a Spread over [start, start+length),
// choosing the rewiring variant when available and falling back to the
// in-place one on its resource-exhaustion error path (§7/§9's documented
// fallback).
func (p *PMA) spreadWindow(start, length int, pending *spread.Pending) {
	w := spread.Window{Start: start, Length: length}
	cardinality := 0
	for i := start; i < start+length; i++ {
		cardinality += p.storage.SegmentSize(i)
	}
	if pending != nil {
		cardinality++
	}

	wres := weights.Project(p.detector, start, length, weights.DefaultParams(), p.index.Find)
	table := p.tableFor()
	plan := partition.Plan(length, cardinality, p.capacity, wres.Intervals, thresholdAtFactory(table))

	total := p.storage.NumSegments()
	if p.useRewiring() {
		if _, err := spread.Rewiring(p.rewireKeys, p.rewireValues, p.pool, p.storage, p.index, p.detector, w, total, plan, pending); err != nil {
			spread.InPlace(p.pool, p.storage, p.index, p.detector, w, total, plan, pending)
		}
	} else {
		spread.InPlace(p.pool, p.storage, p.index, p.detector, w, total, plan, pending)
	}
	p.pool.Reset()

	if length != total {
		for _, seg := range wres.ClearSegments {
			p.detector.Clear(seg)
		}
	}
}

// resize reallocates the storage for newN segments, merges every live
// entry (plus pending, if any) into one scratch run, and writes it back
// uniformly across the new segments. Weights' hammered-run projection is
// indexed against the old segment layout and doesn't translate cleanly
// onto a doubled/halved one, so a resize always plans uniformly; the
// next rebalance within the new layout picks up adaptive planning again
// once the Detector has recorded traffic against it.
func (p *PMA) resize(newN int, pending *spread.Pending) {
	oldN := p.storage.NumSegments()
	total := 0
	for i := 0; i < oldN; i++ {
		total += p.storage.SegmentSize(i)
	}
	if pending != nil {
		total++
	}

	keysBlock := p.pool.AllocateAligned(total*8, 8)
	valuesBlock := p.pool.AllocateAligned(total*8, 8)
	scratchKeys := memorypool.Int64s(keysBlock, total)
	scratchValues := memorypool.Int64s(valuesBlock, total)

	pos := 0
	inserted := pending == nil
	for i := 0; i < oldN; i++ {
		keys := p.storage.LiveKeys(i)
		values := p.storage.LiveValues(i)
		if !inserted {
			split := sort.Search(len(keys), func(j int) bool { return keys[j] > pending.Key })
			if split < len(keys) {
				copy(scratchKeys[pos:], keys[:split])
				copy(scratchValues[pos:], values[:split])
				pos += split
				scratchKeys[pos] = pending.Key
				scratchValues[pos] = pending.Value
				pos++
				copy(scratchKeys[pos:], keys[split:])
				copy(scratchValues[pos:], values[split:])
				pos += len(keys) - split
				inserted = true
				continue
			}
		}
		copy(scratchKeys[pos:], keys)
		copy(scratchValues[pos:], values)
		pos += len(keys)
	}
	if !inserted {
		scratchKeys[pos] = pending.Key
		scratchValues[pos] = pending.Value
	}

	p.storage.Resize(newN)
	p.index.Rebuild(newN)
	p.detector.Resize(newN)

	plan := make([]int, newN)
	base := total / newN
	rem := total % newN
	for i := range plan {
		plan[i] = base
		if i < rem {
			plan[i]++
		}
	}
	offset := 0
	for i, cnt := range plan {
		p.storage.WriteSegment(i, scratchKeys[offset:offset+cnt], scratchValues[offset:offset+cnt])
		if cnt > 0 {
			p.setPivot(i, scratchKeys[offset])
		}
		offset += cnt
	}

	p.pool.Release(keysBlock)
	p.pool.Release(valuesBlock)
	p.pool.Reset()
}
