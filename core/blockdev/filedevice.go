package blockdev

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// FileDevice is a block device backed by a regular file, for durable local
// testing and for running the full stack without hardware. The file is
// created at full capacity (erased pattern) on first open so that reads
// anywhere in range never hit EOF.
type FileDevice struct {
	mu        sync.Mutex
	filePath  string
	file      *os.File
	blockSize int
	size      int64
	logger    *zap.Logger
}

// NewFileDevice opens (or creates and pre-fills) the backing file. An
// existing file must already have exactly the configured size; a mismatch
// means the file belongs to a device with different geometry.
func NewFileDevice(filePath string, blockSize int, size int64, logger *zap.Logger) (*FileDevice, error) {
	if blockSize <= 0 || size <= 0 || size%int64(blockSize) != 0 {
		return nil, fmt.Errorf("%w: block size %d, size %d", ErrInvalidGeometry, blockSize, size)
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, filePath, err)
	}

	d := &FileDevice{
		filePath:  filePath,
		file:      file,
		blockSize: blockSize,
		size:      size,
		logger:    logger.Named("filedev"),
	}

	switch fi.Size() {
	case 0:
		// Fresh file: lay down the erased pattern for the whole capacity,
		// one block at a time.
		if err := d.fillErased(0, size); err != nil {
			file.Close()
			_ = os.Remove(filePath)
			return nil, err
		}
		d.logger.Info("Created backing file",
			zap.String("path", filePath),
			zap.Int64("size", size))
	case size:
		// Existing device, geometry matches.
	default:
		file.Close()
		return nil, fmt.Errorf("%w: file %s is %d bytes, configured size is %d",
			ErrInvalidGeometry, filePath, fi.Size(), size)
	}

	return d, nil
}

func (d *FileDevice) BlockSize() int { return d.blockSize }

func (d *FileDevice) Size() int64 { return d.size }

// ReadAt fills buf from the backing file at addr.
func (d *FileDevice) ReadAt(ctx context.Context, addr int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := checkRange(addr, len(buf), d.size); err != nil {
		return fmt.Errorf("%w: reading %d bytes at %d", err, len(buf), addr)
	}
	n, err := d.file.ReadAt(buf, addr)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: EOF reading %d bytes at %d, backing file may be truncated", ErrIO, len(buf), addr)
		}
		return fmt.Errorf("%w: reading %d bytes at %d: %v", ErrIO, len(buf), addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read at %d, expected %d, got %d", ErrIO, addr, len(buf), n)
	}
	return nil
}

// WriteAt writes buf to the backing file at addr. Unlike real NOR parts the
// file happily overwrites programmed bytes; callers that care about erase
// discipline get it from MemDevice in tests.
func (d *FileDevice) WriteAt(ctx context.Context, addr int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := checkRange(addr, len(buf), d.size); err != nil {
		return fmt.Errorf("%w: writing %d bytes at %d", err, len(buf), addr)
	}
	if _, err := d.file.WriteAt(buf, addr); err != nil {
		return fmt.Errorf("%w: writing %d bytes at %d: %v", ErrIO, len(buf), addr, err)
	}
	// No Sync() per write; durability is the caller's call via Sync().
	return nil
}

// Erase resets [start, end) to the erased pattern.
func (d *FileDevice) Erase(ctx context.Context, start, end int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := checkEraseRange(start, end, d.blockSize, d.size); err != nil {
		return fmt.Errorf("%w: erasing [%d, %d)", err, start, end)
	}
	return d.fillErased(start, end)
}

// fillErased writes the erased pattern over [start, end), block by block.
// Callers hold the lock (or are still constructing the device).
func (d *FileDevice) fillErased(start, end int64) error {
	pattern := make([]byte, d.blockSize)
	for i := range pattern {
		pattern[i] = ErasedByte
	}
	for addr := start; addr < end; addr += int64(d.blockSize) {
		if _, err := d.file.WriteAt(pattern, addr); err != nil {
			return fmt.Errorf("%w: erasing block at %d: %v", ErrIO, addr, err)
		}
	}
	return nil
}

// Sync flushes all buffered data to stable storage.
func (d *FileDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrDeviceClosed
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, d.filePath, err)
	}
	return nil
}

// Close syncs and closes the backing file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		d.logger.Error("Failed to sync backing file on close",
			zap.String("path", d.filePath),
			zap.Error(err))
	}
	closeErr := d.file.Close()
	d.file = nil
	return closeErr
}
