package flash

import (
	"context"
	"fmt"

	"github.com/sushant-115/sdflash/core/blockdev"
)

// BlockFlash adapts a byte-addressed block device to the page-addressed
// Flash contract. All transfers are staged through one page-sized scratch
// buffer owned by the adapter: the device's read primitive may demand a
// buffer matching its own transfer granularity, and the staging hop absorbs
// that mismatch for short caller slices.
//
// The staging buffer is a single reusable scratch area, not double-buffered;
// its contents change on every Read and Write and callers must not expect
// isolation between calls. Consequently a BlockFlash is not reentrant: one
// operation at a time.
type BlockFlash struct {
	dev       blockdev.BlockDevice
	pageSize  int
	pageCount int
	buf       []byte
}

// NewBlockFlash creates an adapter exposing capacity/pageSize pages of the
// given device. The page size must be a whole multiple of the device's block
// size and the capacity must fit the device.
func NewBlockFlash(dev blockdev.BlockDevice, pageSize int, capacity int64) (*BlockFlash, error) {
	if pageSize <= 0 || capacity <= 0 || capacity%int64(pageSize) != 0 {
		return nil, fmt.Errorf("%w: page size %d, capacity %d", ErrInvalidGeometry, pageSize, capacity)
	}
	if pageSize%dev.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: page size %d not a multiple of device block size %d",
			ErrInvalidGeometry, pageSize, dev.BlockSize())
	}
	if capacity > dev.Size() {
		return nil, fmt.Errorf("%w: capacity %d exceeds device size %d",
			ErrInvalidGeometry, capacity, dev.Size())
	}
	return &BlockFlash{
		dev:       dev,
		pageSize:  pageSize,
		pageCount: int(capacity / int64(pageSize)),
		buf:       make([]byte, pageSize),
	}, nil
}

// PageSize returns the configured page size in bytes.
func (f *BlockFlash) PageSize() int {
	return f.pageSize
}

// PageCount returns the fixed number of pages. No I/O, no failure.
func (f *BlockFlash) PageCount() int {
	return f.pageCount
}

// Erase resets the full byte range of the page on the underlying device.
func (f *BlockFlash) Erase(ctx context.Context, page PageID) error {
	start := int64(page.Index()) * int64(f.pageSize)
	return f.dev.Erase(ctx, start, start+int64(f.pageSize))
}

// Read copies len(data) bytes from offset within the page, staging through
// the adapter's scratch buffer.
func (f *BlockFlash) Read(ctx context.Context, page PageID, offset int, data []byte) error {
	if offset < 0 || offset+len(data) > f.pageSize {
		return fmt.Errorf("%w: read of %d bytes at offset %d, page size %d",
			ErrOutOfBounds, len(data), offset, f.pageSize)
	}
	addr := int64(page.Index())*int64(f.pageSize) + int64(offset)
	if err := f.dev.ReadAt(ctx, addr, f.buf[:len(data)]); err != nil {
		return err
	}
	copy(data, f.buf[:len(data)])
	return nil
}

// Write programs len(data) bytes at offset within the page. No
// read-modify-write of the rest of the page happens here; partial writes at
// arbitrary offsets rely on the device (or its buffering wrapper) supporting
// byte-granularity programming.
func (f *BlockFlash) Write(ctx context.Context, page PageID, offset int, data []byte) error {
	if offset < 0 || offset+len(data) > f.pageSize {
		return fmt.Errorf("%w: write of %d bytes at offset %d, page size %d",
			ErrOutOfBounds, len(data), offset, f.pageSize)
	}
	addr := int64(page.Index())*int64(f.pageSize) + int64(offset)
	copy(f.buf[:len(data)], data)
	return f.dev.WriteAt(ctx, addr, f.buf[:len(data)])
}
