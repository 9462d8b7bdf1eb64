//go:build linux

package rewiring

import (
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mmapFixed maps length bytes of fd at file offset, requiring the mapping
// to land at the given virtual address (MAP_FIXED). x/sys/unix's portable
// Mmap helper always passes addr=0, so a remap onto a caller-chosen address
// needs the raw mmap syscall directly.
func mmapFixed(addr uintptr, fd int, offset int64, length int, prot, flags int) ([]byte, error) {
	ptr, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(prot), uintptr(flags|unix.MAP_FIXED), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return nil, errno
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length), nil
}

const supported = true

// memMemory is the Linux implementation of Memory, backed by a
// memfd_create(2) file and mmap(2)/MAP_FIXED for swaps.
//
// Layout: the backing file grows one extent at a time. Free extents (whose
// frames were released by SwapAndRelease or Release) are tracked on a
// freelist and reused before the file is extended further, so that a long
// sequence of rebalances doesn't grow the file without bound.
type memMemory struct {
	mu         sync.Mutex
	fd         int
	extentSize int
	fileSize   int64
	free       []int64 // free extent offsets, available for reuse
	name       string
}

// Open creates a new Linux rewiring arena. extentSize must be a positive
// multiple of the system page size; it is rounded up if not.
func Open(name string, extentSize int) (Memory, error) {
	pageSize := os.Getpagesize()
	if extentSize <= 0 {
		extentSize = pageSize
	}
	if extentSize%pageSize != 0 {
		extentSize = ((extentSize / pageSize) + 1) * pageSize
	}
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "rewiring: memfd_create(%s)", name)
	}
	return &memMemory{fd: fd, extentSize: extentSize, name: name}, nil
}

func (m *memMemory) ExtentSize() int { return m.extentSize }

func (m *memMemory) AcquireBuffer() (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var offset int64
	reused := false
	if n := len(m.free); n > 0 {
		offset = m.free[n-1]
		m.free = m.free[:n-1]
		reused = true
	} else {
		offset = m.fileSize
		newSize := m.fileSize + int64(m.extentSize)
		if err := unix.Ftruncate(m.fd, newSize); err != nil {
			return Buffer{}, errors.Wrapf(err, "rewiring: ftruncate to %d", newSize)
		}
		m.fileSize = newSize
	}

	data, err := unix.Mmap(m.fd, offset, m.extentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		m.free = append(m.free, offset) // don't leak the extent on mmap failure
		return Buffer{}, errors.Wrapf(err, "rewiring: mmap offset %d", offset)
	}
	if reused {
		// A recycled extent still holds its previous contents.
		for i := range data {
			data[i] = 0
		}
	}
	return Buffer{Bytes: data, offset: offset}, nil
}

func (m *memMemory) SwapAndRelease(dst, src Buffer) (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(dst.Bytes) == 0 {
		return Buffer{}, errors.New("rewiring: SwapAndRelease on an empty dst buffer")
	}
	addr := uintptr(unsafe.Pointer(&dst.Bytes[0]))
	// Re-map dst's virtual address onto src's backing offset. MAP_FIXED
	// replaces any existing mapping at addr in one atomic step.
	data, err := mmapFixed(addr, m.fd, src.offset, m.extentSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return Buffer{}, errors.Wrap(err, "rewiring: mmap MAP_FIXED swap")
	}
	// dst's old frames are now unreferenced by any mapping; their extent
	// offset goes back on the freelist for reuse.
	m.free = append(m.free, dst.offset)
	return Buffer{Bytes: data, offset: src.offset}, nil
}

func (m *memMemory) Release(b Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(b.Bytes) == 0 {
		return nil
	}
	if err := unix.Munmap(b.Bytes); err != nil {
		return errors.Wrap(err, "rewiring: munmap")
	}
	m.free = append(m.free, b.offset)
	return nil
}

func (m *memMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return unix.Close(m.fd)
}
