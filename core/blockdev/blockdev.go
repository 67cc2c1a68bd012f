// Package blockdev defines the byte-addressed block device contract the page
// adapter is built on, plus the implementations shipped with the project: an
// in-memory NOR-semantics device, a file-backed device, and a buffering
// wrapper that lifts a strictly block-granular device to arbitrary-length
// access.
package blockdev

import (
	"context"
	"errors"
)

// ErasedByte is the value every byte of an erased range reads back as.
const ErasedByte byte = 0xFF

// --- Error Definitions ---

var (
	ErrIO              = errors.New("i/o error")
	ErrOutOfRange      = errors.New("access beyond device capacity")
	ErrUnalignedErase  = errors.New("erase range not aligned to block size")
	ErrUnalignedIO     = errors.New("access not aligned to block size")
	ErrDeviceClosed    = errors.New("device is closed")
	ErrInvalidGeometry = errors.New("device size must be a positive multiple of block size")
)

// BlockDevice is a byte-addressed storage device with a fixed native block
// granularity. Read and write offsets are byte addresses; whether partial or
// unaligned access is allowed depends on the implementation (BufDevice
// exists to absorb exactly that mismatch). Erase granularity is always whole
// blocks. All I/O methods suspend on the underlying transfer and surface
// failures as opaque errors wrapping ErrIO; nothing at this layer retries.
type BlockDevice interface {
	// BlockSize returns the native transfer granularity in bytes.
	BlockSize() int
	// Size returns the device capacity in bytes.
	Size() int64
	// ReadAt fills buf from the byte range starting at addr.
	ReadAt(ctx context.Context, addr int64, buf []byte) error
	// WriteAt programs buf to the byte range starting at addr.
	WriteAt(ctx context.Context, addr int64, buf []byte) error
	// Erase resets the byte range [start, end) to ErasedByte. Both bounds
	// must fall on block boundaries.
	Erase(ctx context.Context, start, end int64) error
}

// checkRange validates [addr, addr+length) against the device capacity.
func checkRange(addr int64, length int, size int64) error {
	if addr < 0 || length < 0 || addr+int64(length) > size {
		return ErrOutOfRange
	}
	return nil
}

// checkEraseRange validates an erase span: in capacity, ordered, and aligned
// to the block size on both ends.
func checkEraseRange(start, end int64, blockSize int, size int64) error {
	if start < 0 || end < start || end > size {
		return ErrOutOfRange
	}
	if start%int64(blockSize) != 0 || end%int64(blockSize) != 0 {
		return ErrUnalignedErase
	}
	return nil
}
