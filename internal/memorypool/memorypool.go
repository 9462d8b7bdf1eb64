// Package memorypool implements a bump-allocator scratch arena for
// rebalance workspaces.
//
// A Pool fronts a single contiguous byte buffer with a bump pointer.
// Allocations that don't fit fall back to the general allocator and are
// tagged external so Release can free them independent of the bump
// pointer. The pool is reset (bump pointer rewound) once every
// outstanding allocation has been released, mirroring the "recycled
// before the next public operation returns" lifecycle described for the
// PMA facade's rebalance path.
package memorypool

import (
	"unsafe"

	"github.com/grailbio/base/log"
)

// Pool is a fixed-capacity arena plus a count of outstanding allocations.
// Not safe for concurrent use; the PMA core is single-threaded.
type Pool struct {
	buf      []byte
	n        int // bytes bump-allocated so far
	outstand int // outstanding allocations, pool-owned or external
}

// New creates a Pool with a backing arena of the given capacity.
func New(capacity int) *Pool {
	return &Pool{buf: make([]byte, capacity)}
}

// Block is a handle to a pool allocation. Its Bytes are only valid until
// the owning Pool is reset (i.e. until Release brings outstanding back to
// zero).
type Block struct {
	Bytes    []byte
	external bool
}

// Allocate returns a Block containing n zeroed bytes. If the arena doesn't
// have n contiguous free bytes left, Allocate falls back to make([]byte, n)
// and tags the block external.
func (p *Pool) Allocate(n int) Block {
	if n < 0 {
		log.Panicf("memorypool: negative allocation size %d", n)
	}
	p.outstand++
	if p.n+n <= len(p.buf) {
		b := p.buf[p.n : p.n+n : p.n+n]
		for i := range b {
			b[i] = 0
		}
		p.n += n
		return Block{Bytes: b}
	}
	return Block{Bytes: make([]byte, n), external: true}
}

// AllocateAligned returns a Block of n zeroed bytes whose start address is
// a multiple of align (a power of two). Used by callers that reinterpret
// the block as a typed slice, e.g. Spread's int64 scratch arrays.
func (p *Pool) AllocateAligned(n, align int) Block {
	if align <= 0 || align&(align-1) != 0 {
		log.Panicf("memorypool: alignment must be a power of two, got %d", align)
	}
	pad := (align - p.n%align) % align
	if p.n+pad+n <= len(p.buf) {
		p.n += pad
		p.outstand++
		b := p.buf[p.n : p.n+n : p.n+n]
		for i := range b {
			b[i] = 0
		}
		p.n += n
		return Block{Bytes: b}
	}
	p.outstand++
	return Block{Bytes: make([]byte, n), external: true}
}

// Release gives back a Block previously returned by Allocate. Every
// release decrements the outstanding counter; when it reaches zero the
// bump pointer is rewound. External blocks are simply dropped for the GC
// to reclaim.
func (p *Pool) Release(b Block) {
	if p.outstand == 0 {
		log.Panicf("memorypool: Release called with no outstanding allocations")
	}
	p.outstand--
	if p.outstand == 0 {
		p.n = 0
	}
}

// Outstanding reports the number of allocations not yet released.
func (p *Pool) Outstanding() int {
	return p.outstand
}

// Reset rewinds the bump pointer. Requires that every allocation handed
// out since the last Reset has been released; callers (Spread, the PMA
// facade's resize) must release scratch blocks on every exit path, including partial
// failure, before the rebalance returns.
func (p *Pool) Reset() {
	if p.outstand != 0 {
		log.Panicf("memorypool: Reset called with %d outstanding allocations", p.outstand)
	}
	p.n = 0
}

// Capacity returns the size of the backing arena.
func (p *Pool) Capacity() int {
	return len(p.buf)
}

// Int64s reinterprets a Block's bytes as an []int64 of n elements,
// requiring b.Bytes to hold at least n*8 8-byte-aligned bytes (callers
// obtain the block via AllocateAligned(n*8, 8)). Used by the rebalance
// scratch arrays (Spread, the PMA facade's resize) to avoid a second, typed allocation on
// top of the pool's byte arena.
func Int64s(b Block, n int) []int64 {
	if n*8 > len(b.Bytes) {
		log.Panicf("memorypool: Int64s(%d) exceeds block of %d bytes", n, len(b.Bytes))
	}
	if len(b.Bytes) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&b.Bytes[0])), n)
}
