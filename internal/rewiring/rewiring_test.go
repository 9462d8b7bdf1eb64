package rewiring_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexresearch/apma/internal/rewiring"
)

func TestAcquireAndSwap(t *testing.T) {
	if !rewiring.Supported() {
		t.Skip("page remapping not supported on this platform")
	}
	mem, err := rewiring.Open("apma-test", 4096)
	require.NoError(t, err)
	defer mem.Close()

	a, err := mem.AcquireBuffer()
	require.NoError(t, err)
	require.Len(t, a.Bytes, mem.ExtentSize())

	b, err := mem.AcquireBuffer()
	require.NoError(t, err)
	for i := range b.Bytes {
		b.Bytes[i] = 0x42
	}

	swapped, err := mem.SwapAndRelease(a, b)
	require.NoError(t, err)
	for _, v := range swapped.Bytes {
		require.Equal(t, byte(0x42), v)
	}
	require.NoError(t, mem.Release(swapped))
}

func TestOpenUnsupportedReportsError(t *testing.T) {
	if rewiring.Supported() {
		t.Skip("this platform supports rewiring")
	}
	_, err := rewiring.Open("apma-test", 4096)
	require.ErrorIs(t, err, rewiring.ErrUnsupported)
}
