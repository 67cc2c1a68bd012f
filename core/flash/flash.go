// Package flash exposes the page-addressed contract a log-structured
// page-store engine consumes, and the adapter that implements it on top of a
// byte-addressed block device.
package flash

import (
	"context"
	"errors"
)

// --- Error Definitions ---

var (
	ErrOutOfBounds     = errors.New("access beyond page boundary")
	ErrInvalidGeometry = errors.New("capacity must be a positive multiple of page size")
)

// PageID represents a unique, zero-based index of one page. Valid values are
// 0 through PageCount()-1; the consuming engine is trusted to stay in range.
type PageID uint64

// Index returns the page index as a plain int for address arithmetic.
func (p PageID) Index() int {
	return int(p)
}

// Flash is the four-operation contract handed to the page-store engine.
// Every method except PageCount performs device I/O and therefore takes a
// context and can fail; failures are surfaced verbatim with no retry and no
// classification; retry policy belongs to the engine, which understands its
// own transactional semantics.
//
// Implementations are not required to be safe for concurrent use: the engine
// issues one operation at a time per Flash instance.
type Flash interface {
	// PageCount returns the fixed number of pages. Pure, never fails.
	PageCount() int
	// Erase resets every byte of the page to the device's erased value.
	Erase(ctx context.Context, page PageID) error
	// Read copies len(data) bytes starting at offset within the page.
	Read(ctx context.Context, page PageID, offset int, data []byte) error
	// Write programs len(data) bytes starting at offset within the page.
	Write(ctx context.Context, page PageID, offset int, data []byte) error
}
