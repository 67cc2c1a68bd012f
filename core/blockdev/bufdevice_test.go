package blockdev

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// blockOnlyDevice wraps a MemDevice and refuses any read or write that is
// not one whole aligned block, imitating a driver with a hard transfer
// granularity. It is what BufDevice exists to sit on top of.
type blockOnlyDevice struct {
	*MemDevice
}

func (d *blockOnlyDevice) ReadAt(ctx context.Context, addr int64, buf []byte) error {
	if addr%int64(d.BlockSize()) != 0 || len(buf) != d.BlockSize() {
		return fmt.Errorf("%w: read of %d bytes at %d", ErrUnalignedIO, len(buf), addr)
	}
	return d.MemDevice.ReadAt(ctx, addr, buf)
}

func (d *blockOnlyDevice) WriteAt(ctx context.Context, addr int64, buf []byte) error {
	if addr%int64(d.BlockSize()) != 0 || len(buf) != d.BlockSize() {
		return fmt.Errorf("%w: write of %d bytes at %d", ErrUnalignedIO, len(buf), addr)
	}
	return d.MemDevice.WriteAt(ctx, addr, buf)
}

// setupBufDevice builds a BufDevice over a strictly block-granular inner
// device backed by memory.
func setupBufDevice(t *testing.T, blockSize int, size int64) *BufDevice {
	t.Helper()
	mem, err := NewMemDevice(blockSize, size)
	require.NoError(t, err)
	return NewBufDevice(&blockOnlyDevice{MemDevice: mem})
}

// TestBufDevice_UnalignedRoundTrip verifies that writes and reads of
// arbitrary alignment and length work against an inner device that only
// accepts whole aligned blocks.
func TestBufDevice_UnalignedRoundTrip(t *testing.T) {
	dev := setupBufDevice(t, 512, 8192)
	ctx := context.Background()

	// Spans a block boundary at 1024 and covers two ragged edges plus one
	// whole block in the middle.
	data := make([]byte, 900)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, dev.WriteAt(ctx, 700, data))

	got := make([]byte, 900)
	require.NoError(t, dev.ReadAt(ctx, 700, got))
	require.Equal(t, data, got)
}

// TestBufDevice_ReadModifyWritePreservesNeighbors verifies that a partial
// block write does not clobber the rest of the block.
func TestBufDevice_ReadModifyWritePreservesNeighbors(t *testing.T) {
	dev := setupBufDevice(t, 512, 4096)
	ctx := context.Background()

	// Program the block except for a 4-byte gap left erased; the inner
	// device has NOR semantics, so the later patch must land on erased
	// bytes to store cleanly.
	fill := make([]byte, 100)
	for i := range fill {
		fill[i] = 0xA5
	}
	require.NoError(t, dev.WriteAt(ctx, 512, fill))
	require.NoError(t, dev.WriteAt(ctx, 512+104, fill))

	// Patch the erased gap in the middle of that block.
	require.NoError(t, dev.WriteAt(ctx, 512+100, []byte{1, 2, 3, 4}))

	got := make([]byte, 512)
	require.NoError(t, dev.ReadAt(ctx, 512, got))
	require.Equal(t, []byte{1, 2, 3, 4}, got[100:104])
	require.Equal(t, byte(0xA5), got[99], "byte before the patch must survive")
	require.Equal(t, byte(0xA5), got[104], "byte after the patch must survive")
}

// TestBufDevice_AlignedFastPath verifies whole aligned blocks pass through
// and still round-trip.
func TestBufDevice_AlignedFastPath(t *testing.T) {
	dev := setupBufDevice(t, 512, 4096)
	ctx := context.Background()

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, dev.WriteAt(ctx, 1024, data))

	got := make([]byte, 1024)
	require.NoError(t, dev.ReadAt(ctx, 1024, got))
	require.Equal(t, data, got)
}

// TestBufDevice_RangeChecks verifies capacity enforcement happens before any
// inner I/O.
func TestBufDevice_RangeChecks(t *testing.T) {
	dev := setupBufDevice(t, 512, 4096)
	ctx := context.Background()

	require.ErrorIs(t, dev.ReadAt(ctx, 4000, make([]byte, 200)), ErrOutOfRange)
	require.ErrorIs(t, dev.WriteAt(ctx, 5000, []byte{0}), ErrOutOfRange)
}
