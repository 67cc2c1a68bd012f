package blockdev

import (
	"context"
	"fmt"
	"sync"
)

// MemDevice is an in-memory block device with NOR flash semantics: a fresh
// device reads back all ErasedByte, programming can only clear bits (the
// stored value is the bitwise AND of old and new), and only an erase brings
// bits back. It allows byte-granular reads and writes at any alignment,
// standing in for a driver stack whose block-buffering layer already absorbed
// granularity.
type MemDevice struct {
	mu        sync.Mutex
	blockSize int
	data      []byte
}

// NewMemDevice creates an erased in-memory device of the given geometry.
func NewMemDevice(blockSize int, size int64) (*MemDevice, error) {
	if blockSize <= 0 || size <= 0 || size%int64(blockSize) != 0 {
		return nil, fmt.Errorf("%w: block size %d, size %d", ErrInvalidGeometry, blockSize, size)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &MemDevice{
		blockSize: blockSize,
		data:      data,
	}, nil
}

func (d *MemDevice) BlockSize() int { return d.blockSize }

func (d *MemDevice) Size() int64 { return int64(len(d.data)) }

// ReadAt fills buf from the device at addr.
func (d *MemDevice) ReadAt(ctx context.Context, addr int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(addr, len(buf), d.Size()); err != nil {
		return fmt.Errorf("%w: reading %d bytes at %d", err, len(buf), addr)
	}
	copy(buf, d.data[addr:addr+int64(len(buf))])
	return nil
}

// WriteAt programs buf at addr. Bits already programmed to zero stay zero
// until the containing block is erased.
func (d *MemDevice) WriteAt(ctx context.Context, addr int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkRange(addr, len(buf), d.Size()); err != nil {
		return fmt.Errorf("%w: writing %d bytes at %d", err, len(buf), addr)
	}
	for i, b := range buf {
		d.data[addr+int64(i)] &= b
	}
	return nil
}

// Erase resets [start, end) to ErasedByte.
func (d *MemDevice) Erase(ctx context.Context, start, end int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkEraseRange(start, end, d.blockSize, d.Size()); err != nil {
		return fmt.Errorf("%w: erasing [%d, %d)", err, start, end)
	}
	for i := start; i < end; i++ {
		d.data[i] = ErasedByte
	}
	return nil
}
