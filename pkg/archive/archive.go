// Package archive defines the serialization-stream contract the bulk data
// engine reads from and writes to, plus two concrete implementations: an
// in-memory archive for tests and short-lived transacting use, and an
// on-disk file archive for persistent saves.
//
// An Archive does not know anything about bulk data payloads; it only knows
// how to report/seek its cursor, serialize typed header fields and raw byte
// ranges in its own byte order, and notify attached instances when it is
// about to go away. The bulkdata package is the only consumer that
// interprets those primitives as flags/element_count/size_on_disk/
// offset_in_file headers.
package archive

import "errors"

// ErrNotTransacting reports that an archive does not implement
// transacting-archive semantics; no function in this package returns it.
var ErrNotTransacting = errors.New("archive: not a transacting archive")

// Attachable is implemented by anything that wants to be notified when the
// Archive it is attached to is about to close or be torn down. BulkData
// implements this so the archive can drive a detach without either package
// owning the other — the archive keeps a set of attached instances and
// calls back through this interface; the instance keeps only a weak
// reference to the archive it attached to.
type Attachable interface {
	// OnArchiveDetaching is called by the archive immediately before it
	// forgets about the attachable. Implementations must not call back into
	// the archive from within this method.
	OnArchiveDetaching()
}

// CompressionScheme identifies a compressed-serialize codec an Archive
// supports. The zero value means "no compression".
type CompressionScheme int

const (
	// CompressionNone indicates the bulk path should use SerializeRaw.
	CompressionNone CompressionScheme = iota
	// CompressionZLIB maps to the engine's SerializeCompressedZLIB flag.
	CompressionZLIB
)

// Archive is the collaborator contract the bulk data engine consumes. It is
// intentionally symmetric between load and save: callers invoke the same
// method regardless of IsLoading()/IsSaving() and the concrete archive
// decides whether to read into or write from the given buffer/pointer,
// mirroring the teacher's own store abstractions where a single method
// serves both persist and restore paths.
type Archive interface {
	// Tell returns the current cursor position.
	Tell() (int64, error)

	// Seek moves the cursor to an absolute offset.
	Seek(offset int64) error

	// IsLoading reports whether this archive is being read from.
	IsLoading() bool

	// IsSaving reports whether this archive is being written to.
	IsSaving() bool

	// IsTransacting reports whether this is an undo/redo transaction
	// archive, which serializes bulk data with the boolean-guard protocol
	// of spec.md §4.3 rather than the persistent two-phase protocol.
	IsTransacting() bool

	// IsCooked reports whether this archive represents a cooked (shipping,
	// read-only) build, enabling the async-streaming eligibility path.
	IsCooked() bool

	// ShouldByteSwap reports whether the archive's on-disk byte order
	// differs from the host's native order, driving the per-element codec
	// fallback path.
	ShouldByteSwap() bool

	// SerializeUint32/SerializeInt32/SerializeInt64 read or write a single
	// fixed-width header field in the archive's byte order, depending on
	// IsLoading/IsSaving.
	SerializeUint32(v *uint32) error
	SerializeInt32(v *int32) error
	SerializeInt64(v *int64) error

	// SerializeRaw reads len(buf) bytes into buf (loading) or writes buf
	// (saving) — the "bulk path" of the codec.
	SerializeRaw(buf []byte) error

	// SerializeCompressedSave compresses payload with scheme and writes the
	// compressed bytes to the stream, returning the number of bytes
	// written (the on-disk size).
	SerializeCompressedSave(payload []byte, scheme CompressionScheme) (int64, error)

	// SerializeCompressedLoad reads exactly sizeOnDisk compressed bytes
	// from the stream and decompresses them into dest, which must already
	// be sized to the logical (uncompressed) length.
	SerializeCompressedLoad(dest []byte, sizeOnDisk int64, scheme CompressionScheme) error

	// Filename returns the path backing this archive, or "" if it has none
	// (e.g. a pure in-memory archive). Used to reopen the file for an async
	// fetch after the archive itself may have gone away.
	Filename() string

	// Attach registers a for notification via OnArchiveDetaching when this
	// archive is closed or otherwise torn down.
	Attach(a Attachable)

	// Detach removes a from the attached set without notifying it. Used by
	// a BulkData instance detaching itself proactively (e.g. before a
	// read-write lock), as opposed to the archive detaching it.
	Detach(a Attachable)

	// Close tears the archive down, notifying every still-attached
	// Attachable via OnArchiveDetaching.
	Close() error
}
