// Package linker implements the deferred-append bookkeeping a save pass
// needs for end-of-file bulk data payloads: a placeholder header is
// written first, the payload body is appended later (after the parent
// object's own body), and the header is backpatched once the payload's
// final position is known.
//
// This mirrors the teacher's transfer queue in shape (a caller enqueues
// records, a later pass resolves them) but runs synchronously and
// single-threaded, per the engine's own contract: a linker-save context
// is caller-owned and accessed from one goroutine only.
package linker

import (
	"fmt"

	"github.com/bulkdata/engine/pkg/archive"
)

// AppendRecord is one deferred end-of-file payload write. FlagsPos,
// SizePos, and OffsetPos are the archive offsets of the three header
// fields that were written as placeholders; Write performs the actual
// payload serialization against the archive (already positioned at the
// end of the main body) and reports where the payload landed.
type AppendRecord struct {
	FlagsPos  int64
	SizePos   int64
	OffsetPos int64
	Flags     uint32

	// Write serializes the payload body at the archive's current cursor
	// and returns the absolute offset the payload was written at and its
	// on-disk byte length.
	Write func(a archive.Archive) (offset int64, sizeOnDisk int64, err error)
}

// SaveContext accumulates AppendRecords during a save pass and resolves
// them afterward, realizing the engine's "Linker-save" collaborator
// contract (spec.md §6): deferred-append records resolved after the main
// body is written.
type SaveContext struct {
	records []AppendRecord
}

// NewSaveContext returns an empty deferred-append list.
func NewSaveContext() *SaveContext {
	return &SaveContext{}
}

// Enqueue records a deferred end-of-file payload write to perform during
// Resolve.
func (c *SaveContext) Enqueue(rec AppendRecord) {
	c.records = append(c.records, rec)
}

// Pending reports how many records are still queued.
func (c *SaveContext) Pending() int {
	return len(c.records)
}

// Resolve appends every queued payload at the archive's current cursor,
// in enqueue order, then backpatches each record's three header fields
// with the flags and the position/size the write reported. The archive
// cursor is left just past the last appended payload.
func (c *SaveContext) Resolve(a archive.Archive) error {
	records := c.records
	c.records = nil

	for i, rec := range records {
		offset, sizeOnDisk, err := rec.Write(a)
		if err != nil {
			return fmt.Errorf("linker: resolve record %d: %w", i, err)
		}

		endPos, err := a.Tell()
		if err != nil {
			return fmt.Errorf("linker: resolve record %d: tell after write: %w", i, err)
		}

		if err := a.Seek(rec.FlagsPos); err != nil {
			return fmt.Errorf("linker: resolve record %d: seek flags: %w", i, err)
		}
		flags := rec.Flags
		if err := a.SerializeUint32(&flags); err != nil {
			return fmt.Errorf("linker: resolve record %d: write flags: %w", i, err)
		}

		if err := a.Seek(rec.SizePos); err != nil {
			return fmt.Errorf("linker: resolve record %d: seek size: %w", i, err)
		}
		size32 := int32(sizeOnDisk)
		if err := a.SerializeInt32(&size32); err != nil {
			return fmt.Errorf("linker: resolve record %d: write size: %w", i, err)
		}

		if err := a.Seek(rec.OffsetPos); err != nil {
			return fmt.Errorf("linker: resolve record %d: seek offset: %w", i, err)
		}
		offset64 := offset
		if err := a.SerializeInt64(&offset64); err != nil {
			return fmt.Errorf("linker: resolve record %d: write offset: %w", i, err)
		}

		if err := a.Seek(endPos); err != nil {
			return fmt.Errorf("linker: resolve record %d: restore cursor: %w", i, err)
		}
	}

	return nil
}
