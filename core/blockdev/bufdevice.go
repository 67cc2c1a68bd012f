package blockdev

import (
	"context"
	"fmt"
)

// BufDevice lifts a strictly block-granular device to arbitrary-length,
// arbitrary-alignment byte access. Whole aligned blocks pass straight
// through; ragged edges are staged through a single block-sized buffer, with
// read-modify-write on partial block writes.
//
// The staging buffer is reused across calls, so a BufDevice must not be used
// from more than one goroutine at a time. That matches how the page adapter
// drives it: one operation in flight per device.
type BufDevice struct {
	inner BlockDevice
	buf   []byte
}

// NewBufDevice wraps inner. The wrapper reports the same geometry.
func NewBufDevice(inner BlockDevice) *BufDevice {
	return &BufDevice{
		inner: inner,
		buf:   make([]byte, inner.BlockSize()),
	}
}

func (d *BufDevice) BlockSize() int { return d.inner.BlockSize() }

func (d *BufDevice) Size() int64 { return d.inner.Size() }

// ReadAt fills buf from addr, splitting the range into a ragged head block,
// a run of whole blocks read directly into buf, and a ragged tail block.
func (d *BufDevice) ReadAt(ctx context.Context, addr int64, buf []byte) error {
	if err := checkRange(addr, len(buf), d.Size()); err != nil {
		return fmt.Errorf("%w: reading %d bytes at %d", err, len(buf), addr)
	}
	bs := int64(d.inner.BlockSize())

	for len(buf) > 0 {
		blockStart := addr - addr%bs
		off := int(addr - blockStart)

		if off == 0 && len(buf) >= int(bs) {
			// Aligned whole block: no staging needed.
			if err := d.inner.ReadAt(ctx, blockStart, buf[:bs]); err != nil {
				return err
			}
			addr += bs
			buf = buf[bs:]
			continue
		}

		// Partial block: stage the whole block and copy the slice out.
		if err := d.inner.ReadAt(ctx, blockStart, d.buf); err != nil {
			return err
		}
		n := copy(buf, d.buf[off:])
		addr += int64(n)
		buf = buf[n:]
	}
	return nil
}

// WriteAt programs buf at addr. Partial blocks are read, patched in the
// staging buffer, and written back whole.
func (d *BufDevice) WriteAt(ctx context.Context, addr int64, buf []byte) error {
	if err := checkRange(addr, len(buf), d.Size()); err != nil {
		return fmt.Errorf("%w: writing %d bytes at %d", err, len(buf), addr)
	}
	bs := int64(d.inner.BlockSize())

	for len(buf) > 0 {
		blockStart := addr - addr%bs
		off := int(addr - blockStart)

		if off == 0 && len(buf) >= int(bs) {
			if err := d.inner.WriteAt(ctx, blockStart, buf[:bs]); err != nil {
				return err
			}
			addr += bs
			buf = buf[bs:]
			continue
		}

		// Read-modify-write for the ragged edge.
		if err := d.inner.ReadAt(ctx, blockStart, d.buf); err != nil {
			return err
		}
		n := copy(d.buf[off:], buf)
		if err := d.inner.WriteAt(ctx, blockStart, d.buf); err != nil {
			return err
		}
		addr += int64(n)
		buf = buf[n:]
	}
	return nil
}

// Erase passes through; erase granularity is whole blocks at every layer.
func (d *BufDevice) Erase(ctx context.Context, start, end int64) error {
	return d.inner.Erase(ctx, start, end)
}
