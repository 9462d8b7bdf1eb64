package apma

import "github.com/pkg/errors"

// Options configures a PMA at construction time. Every field is validated
// once by Open; there is no mutable runtime configuration (spec §7
// "Invalid construction").
type Options struct {
	// SegmentCapacity is C, the number of slots per segment. Rounded up to
	// the nearest power of two and clamped to [8, 65535].
	SegmentCapacity int
	// NodeFanout is B, the StaticIndex node fanout. Must be >= 3.
	NodeFanout int
	// UseRewiring selects the page-remapping Spread variant
	// (internal/spread.Rewiring) over the copy-based one, when the
	// current platform supports it (internal/rewiring.Supported). It is
	// silently downgraded to the copy-based variant otherwise, matching
	// spec §9 design note 5's documented fallback.
	UseRewiring bool
}

const (
	minSegmentCapacity = 8
	maxSegmentCapacity = 65535
	// maxPow2SegmentCapacity is the largest power of two not exceeding
	// maxSegmentCapacity: 65535 itself isn't a power of two, so "raised to
	// the next power of two and clamped to [8, 65535]" (spec §6) can only
	// mean clamping down to this value once the raise overshoots it.
	maxPow2SegmentCapacity = 32768
)

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// validate normalizes opts and reports a construction error, wrapped per
// spec §7's "Invalid construction" binding.
func (o Options) validate() (Options, error) {
	if o.SegmentCapacity <= 0 {
		return o, errors.Errorf("apma: segment capacity must be positive, got %d", o.SegmentCapacity)
	}
	c := o.SegmentCapacity
	if !isPow2(c) {
		c = nextPow2(c)
	}
	if c < minSegmentCapacity {
		c = minSegmentCapacity
	}
	if c > maxSegmentCapacity {
		c = maxPow2SegmentCapacity
	}
	o.SegmentCapacity = c

	if o.NodeFanout == 0 {
		o.NodeFanout = defaultNodeFanout
	}
	if o.NodeFanout < 3 {
		return o, errors.Errorf("apma: node fanout must be >= 3, got %d", o.NodeFanout)
	}
	return o, nil
}
