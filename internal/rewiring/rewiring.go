// Package rewiring implements RewiredMemory: a resource that owns a set of
// physical pages plus virtual-address windows mapped onto them, supporting
// page-table-level remapping instead of copying when a PMA resize only
// touches the boundary between old and new storage.
//
// The contract (spec §4.2) is: acquire a virtual buffer of one extent backed
// by fresh physical frames; later atomically swap one buffer's physical
// frames under another buffer's virtual address, in O(1) time regardless of
// extent size. Any OS primitive that supports page remapping can satisfy
// this; on platforms without one (see rewiring_other.go) Open reports
// ErrUnsupported and callers fall back to the copy-based spread
// (internal/spread's in-place implementation).
package rewiring

import "errors"

// ErrUnsupported is returned by Open on platforms with no page-remapping
// primitive available.
var ErrUnsupported = errors.New("rewiring: page remapping not supported on this platform")

// Buffer is a handle to one extent-sized virtual window. Its Bytes are
// valid until the Buffer is consumed by SwapAndRelease (as either argument)
// or explicitly released via Memory.Release.
type Buffer struct {
	Bytes  []byte
	offset int64 // file offset backing this virtual window; implementation detail
}

// Memory owns one memfd-backed (or platform-equivalent) file and the
// virtual windows mapped onto it. One Memory instance backs one logical
// array (Storage's keys, values, or sizes array).
type Memory interface {
	// ExtentSize returns the size, in bytes, of the unit of rewiring: a
	// multiple of the OS page size.
	ExtentSize() int

	// AcquireBuffer returns a spare virtual window backed by fresh,
	// zero-filled physical frames, extending the backing file if needed.
	AcquireBuffer() (Buffer, error)

	// SwapAndRelease atomically remaps the physical frames of src under
	// dst's virtual address, releasing dst's previous frames. After this
	// call, dst.Bytes aliases what used to be src's backing frames; src
	// must not be used again.
	SwapAndRelease(dst, src Buffer) (Buffer, error)

	// Release gives back a buffer acquired via AcquireBuffer without
	// swapping it into another virtual address (used on error/cleanup
	// paths so no frame is leaked).
	Release(b Buffer) error

	// Close releases the OS resources (file handle, mappings) owned by
	// this Memory. Must be called exactly once, on every exit path.
	Close() error
}

// Supported reports whether this platform's Open can succeed.
func Supported() bool {
	return supported
}
