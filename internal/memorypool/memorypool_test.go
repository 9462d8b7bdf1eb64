package memorypool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma/internal/memorypool"
)

func TestAllocateWithinCapacity(t *testing.T) {
	p := memorypool.New(64)
	a := p.Allocate(32)
	require.Len(t, a.Bytes, 32)
	b := p.Allocate(32)
	require.Len(t, b.Bytes, 32)
	require.Equal(t, 2, p.Outstanding())
	p.Release(a)
	p.Release(b)
	require.Equal(t, 0, p.Outstanding())
	p.Reset()
}

func TestAllocateOverflowFallsBackExternal(t *testing.T) {
	p := memorypool.New(16)
	a := p.Allocate(8)
	b := p.Allocate(64) // doesn't fit alongside a
	require.Len(t, b.Bytes, 64)
	p.Release(a)
	p.Release(b)
}

func TestResetPanicsOnOutstanding(t *testing.T) {
	p := memorypool.New(16)
	_ = p.Allocate(8)
	require.Panics(t, func() { p.Reset() })
}
