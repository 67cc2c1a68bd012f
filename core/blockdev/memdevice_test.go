package blockdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMemDevice_FreshDeviceIsErased verifies a new device reads back the
// erased pattern everywhere.
func TestMemDevice_FreshDeviceIsErased(t *testing.T) {
	dev, err := NewMemDevice(512, 4096)
	require.NoError(t, err)

	buf := make([]byte, 4096)
	require.NoError(t, dev.ReadAt(context.Background(), 0, buf))
	for i, b := range buf {
		require.Equal(t, ErasedByte, b, "byte %d not erased", i)
	}
}

// TestMemDevice_WriteReadRoundTrip covers unaligned byte-granular access.
func TestMemDevice_WriteReadRoundTrip(t *testing.T) {
	dev, err := NewMemDevice(512, 4096)
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte{0x12, 0x34, 0x56}
	require.NoError(t, dev.WriteAt(ctx, 1000, data)) // straddles no boundary, unaligned

	got := make([]byte, 3)
	require.NoError(t, dev.ReadAt(ctx, 1000, got))
	require.Equal(t, data, got)
}

// TestMemDevice_ProgramOnlyClearsBits pins NOR semantics: programming ANDs
// into the stored value, and only an erase brings bits back to one.
func TestMemDevice_ProgramOnlyClearsBits(t *testing.T) {
	dev, err := NewMemDevice(512, 1024)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, dev.WriteAt(ctx, 0, []byte{0xF0}))
	require.NoError(t, dev.WriteAt(ctx, 0, []byte{0x0F}))

	got := make([]byte, 1)
	require.NoError(t, dev.ReadAt(ctx, 0, got))
	require.Equal(t, byte(0x00), got[0], "0xF0 AND 0x0F must be 0x00")

	require.NoError(t, dev.Erase(ctx, 0, 512))
	require.NoError(t, dev.ReadAt(ctx, 0, got))
	require.Equal(t, ErasedByte, got[0])
}

// TestMemDevice_RangeAndAlignmentChecks covers the error surface.
func TestMemDevice_RangeAndAlignmentChecks(t *testing.T) {
	dev, err := NewMemDevice(512, 1024)
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, dev.ReadAt(ctx, 1020, make([]byte, 8)), ErrOutOfRange)
	require.ErrorIs(t, dev.WriteAt(ctx, -1, []byte{0}), ErrOutOfRange)
	require.ErrorIs(t, dev.Erase(ctx, 0, 2048), ErrOutOfRange)
	require.ErrorIs(t, dev.Erase(ctx, 100, 512), ErrUnalignedErase)
	require.ErrorIs(t, dev.Erase(ctx, 0, 100), ErrUnalignedErase)

	_, err = NewMemDevice(512, 1000)
	require.ErrorIs(t, err, ErrInvalidGeometry)
	_, err = NewMemDevice(0, 1024)
	require.ErrorIs(t, err, ErrInvalidGeometry)
}
