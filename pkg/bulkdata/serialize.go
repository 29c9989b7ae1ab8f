package bulkdata

import (
	"fmt"

	"github.com/bulkdata/engine/internal/bytesize"
	"github.com/bulkdata/engine/internal/logger"
	"github.com/bulkdata/engine/pkg/archive"
	"github.com/bulkdata/engine/pkg/bulkpool"
	"github.com/bulkdata/engine/pkg/linker"
)

// FileOpener opens the backing file for a background fetch, realizing the
// "File manager" collaborator contract of spec.md §6: opens a read stream
// by path. A missing file is not handled silently here — cooked content is
// expected to be complete (spec.md §7) — callers that want silent-missing
// semantics for a foreground lazy-load should check existence themselves
// before calling Deserialize.
type FileOpener func(path string) (archive.Archive, error)

// DefaultFileOpener opens path as an on-disk FileArchive in load mode.
func DefaultFileOpener(path string) (archive.Archive, error) {
	return archive.OpenForLoad(path, false)
}

// LoadOptions configures a single Deserialize call: the archive-mode and
// loader-policy inputs spec.md §4.3 step 3 decides among the three load
// paths with.
type LoadOptions struct {
	// LinkerOffsetBase is added to offset_in_file when the payload is
	// marked end-of-file and a package/linker offset base applies
	// (spec.md §4.3 step 2).
	LinkerOffsetBase int64

	// AllowLazyLoad reports whether the archive's current policy permits
	// deferring or streaming the payload read at all. false forces an
	// immediate synchronous read regardless of size or flags.
	AllowLazyLoad bool

	// Foreground reports whether this call is running on the foreground
	// thread, part of the async-streaming eligibility predicate
	// (spec.md §4.5).
	Foreground bool

	// Opener resolves the recorded filename to a readable Archive for an
	// async fetch. Required for the lazy-inline-streamed path; a nil
	// Opener simply disables streaming for this load.
	Opener FileOpener
}

// DefaultLoadOptions returns the common foreground, lazy-load-eligible,
// default-opener configuration.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{AllowLazyLoad: true, Foreground: true, Opener: DefaultFileOpener}
}

// Deserialize implements the persistent, non-transacting load protocol of
// spec.md §4.3. It reads the header, records the archive attachment, and
// then — depending on opts and the instance's flags — defers the payload
// to an async fetch, reads it inline immediately, or seeks out to its
// end-of-file location and back.
func (b *BulkData) Deserialize(a archive.Archive, opts LoadOptions) error {
	if a.IsTransacting() {
		return b.serializeTransacting(a)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var flagsVal uint32
	if err := a.SerializeUint32(&flagsVal); err != nil {
		return &Error{Op: "load", Err: err}
	}
	b.flags = Flags(flagsVal)

	var ec int32
	if err := a.SerializeInt32(&ec); err != nil {
		return &Error{Op: "load", Err: err}
	}
	b.elementCount = ec

	var size32 int32
	if err := a.SerializeInt32(&size32); err != nil {
		return &Error{Op: "load", Err: err}
	}
	b.sizeOnDisk = int64(size32)

	var offset int64
	if err := a.SerializeInt64(&offset); err != nil {
		return &Error{Op: "load", Err: err}
	}
	b.offsetInFile = offset

	if b.flags.Has(PayloadAtEndOfFile) && opts.LinkerOffsetBase != 0 {
		b.offsetInFile += opts.LinkerOffsetBase
	}

	if b.attachedArchive != nil && b.attachedArchive != a {
		b.attachedArchive.Detach(b)
	}
	b.attachedArchive = a
	a.Attach(b)
	b.filename = a.Filename()

	if b.sizeOnDisk <= 0 || b.flags.Has(Unused) {
		b.sizeOnDisk = 0
		b.applyCookedSingleUseLocked(a)
		return nil
	}

	var err error
	if b.flags.Has(PayloadAtEndOfFile) {
		err = b.loadEndOfFileLocked(a)
	} else {
		err = b.loadInlineLocked(a, opts)
	}
	if err != nil {
		return &Error{Op: "load", Flags: b.flags, ElementCount: b.elementCount, Offset: b.offsetInFile, Filename: b.filename, Err: err}
	}

	b.applyCookedSingleUseLocked(a)
	return nil
}

// applyCookedSingleUseLocked resolves spec.md §9's disabled-by-default
// cooked-load-time SingleUse branch; must be called with mu held.
func (b *BulkData) applyCookedSingleUseLocked(a archive.Archive) {
	if b.cfg.LoadPolicy.ForceSingleUseOnCookedLoad && a.IsCooked() {
		b.flags = b.flags.Set(SingleUse)
	}
}

// loadEndOfFileLocked implements the third branch of spec.md §4.3 step 3:
// save the cursor, seek to offset_in_file, read the payload, seek back.
// Must be called with mu held.
func (b *BulkData) loadEndOfFileLocked(a archive.Archive) error {
	cur, err := a.Tell()
	if err != nil {
		return err
	}
	if err := a.Seek(b.offsetInFile); err != nil {
		return err
	}
	if err := b.readPayloadLocked(a); err != nil {
		return err
	}
	return a.Seek(cur)
}

// loadInlineLocked implements the first two branches of spec.md §4.3 step
// 3: either dispatch an async fetch and skip the bytes, or read them
// immediately. Must be called with mu held.
func (b *BulkData) loadInlineLocked(a archive.Archive, opts LoadOptions) error {
	payloadStart, err := a.Tell()
	if err != nil {
		return err
	}

	eligible := opts.AllowLazyLoad && opts.Opener != nil && b.queue != nil &&
		b.filename != "" && b.cfg.MultithreadingAvailable && opts.Foreground &&
		b.cfg.Cooked && a.IsCooked() &&
		(b.flags.Has(ForceStreamPayload) || bytesize.ByteSize(b.sizeOnDisk) > b.cfg.MinStreamSize)

	if !eligible {
		return b.readPayloadLocked(a)
	}

	b.dispatchAsyncFetchLocked(opts.Opener, b.filename, payloadStart, b.sizeOnDisk)
	if b.asyncFuture == nil {
		// Queue saturated (spec.md §6's worker pool is a real resource
		// limit): fall back to reading synchronously from right here.
		return b.readPayloadLocked(a)
	}
	return a.Seek(payloadStart + b.sizeOnDisk)
}

// readPayloadLocked ensures the payload buffer is sized and resident, then
// decodes a's current position into it. Must be called with mu held; a
// must be positioned at the start of the payload region.
func (b *BulkData) readPayloadLocked(a archive.Archive) error {
	logicalSize := int(b.elementCount) * b.codec.ElementSize()
	if b.payload == nil || len(b.payload.Data) != logicalSize {
		if b.payload != nil && !b.ownsPayload {
			return fmt.Errorf("bulkdata: cannot resize an externally-owned buffer for load")
		}
		buf, err := bulkpool.AlignedAlloc(logicalSize, b.alignment)
		if err != nil {
			return err
		}
		b.payload = buf
		b.ownsPayload = true
	}
	return decodeBulkOrElement(b.codec, b.flags, a, b.payload.Data, b.elementCount, b.sizeOnDisk)
}

// dispatchAsyncFetchLocked enqueues a background fetch task that reopens
// filename, seeks to offset, and decodes sizeOnDisk bytes — an independent
// snapshot of every field the fetch needs, per spec.md §5's ordering
// guarantee that those fields are not mutated again before harvest. Must be
// called with mu held.
func (b *BulkData) dispatchAsyncFetchLocked(opener FileOpener, filename string, offset, sizeOnDisk int64) {
	codec := b.codec
	flags := b.flags
	elementCount := b.elementCount

	b.asyncFuture = b.queue.Enqueue(func() ([]byte, error) {
		a, err := opener(filename)
		if err != nil {
			return nil, &Error{Op: "async-fetch", Filename: filename, Offset: offset, Err: err}
		}
		defer a.Close()

		if err := a.Seek(offset); err != nil {
			return nil, &Error{Op: "async-fetch", Filename: filename, Offset: offset, Err: err}
		}

		data := make([]byte, int(elementCount)*codec.ElementSize())
		if err := decodeBulkOrElement(codec, flags, a, data, elementCount, sizeOnDisk); err != nil {
			return nil, &Error{Op: "async-fetch", Filename: filename, Offset: offset, Err: err}
		}
		return data, nil
	})
}

// Serialize implements the persistent, non-transacting two-phase save
// protocol of spec.md §4.3: a placeholder header is written, the payload
// is emitted inline or deferred to linkerCtx, and the header is backpatched
// once the payload's final size and position are known. compressSwitch, if
// true, turns on SerializeCompressedZLIB for this save (the parent
// package's compression policy, spec.md §4.3 step 1); false leaves the
// instance's current compression setting untouched.
func (b *BulkData) Serialize(a archive.Archive, linkerCtx *linker.SaveContext, compressSwitch bool) error {
	if a.IsTransacting() {
		return b.serializeTransacting(a)
	}

	if compressSwitch {
		if err := b.SetStoreCompressed(true); err != nil {
			return &Error{Op: "save", Err: err}
		}
	}

	b.mu.Lock()
	b.flags = b.flags.Clear(ForceSingleElementSerialization)
	b.mu.Unlock()

	if err := b.EnsureResident(); err != nil {
		return &Error{Op: "save", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	flagsPos, err := a.Tell()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	flagsVal := uint32(b.flags)
	if err := a.SerializeUint32(&flagsVal); err != nil {
		return &Error{Op: "save", Err: err}
	}

	ec := b.elementCount
	if err := a.SerializeInt32(&ec); err != nil {
		return &Error{Op: "save", Err: err}
	}

	sizePos, err := a.Tell()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	placeholderSize := int32(noBacking)
	if err := a.SerializeInt32(&placeholderSize); err != nil {
		return &Error{Op: "save", Err: err}
	}

	offsetPos, err := a.Tell()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	placeholderOffset := int64(noBacking)
	if err := a.SerializeInt64(&placeholderOffset); err != nil {
		return &Error{Op: "save", Err: err}
	}

	if b.flags.Has(ForceInlinePayload) || linkerCtx == nil {
		return b.saveInlineLocked(a, flagsPos, sizePos, offsetPos)
	}
	return b.saveEndOfFileLocked(linkerCtx, flagsPos, sizePos, offsetPos)
}

// saveInlineLocked writes the payload immediately after the header just
// written, then seeks back and overwrites the three placeholder fields.
// Must be called with mu held.
func (b *BulkData) saveInlineLocked(a archive.Archive, flagsPos, sizePos, offsetPos int64) error {
	b.flags = b.flags.Clear(PayloadAtEndOfFile)

	payloadStart, err := a.Tell()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}

	var payload []byte
	if b.payload != nil {
		payload = b.payload.Data
	}
	sizeOnDisk, err := encodeBulkOrElement(b.codec, b.flags, a, payload, b.elementCount)
	if err != nil {
		return &Error{Op: "save", Err: err}
	}

	end, err := a.Tell()
	if err != nil {
		return &Error{Op: "save", Err: err}
	}

	b.sizeOnDisk = sizeOnDisk
	b.offsetInFile = payloadStart

	if err := backpatchHeader(a, flagsPos, sizePos, offsetPos, uint32(b.flags), sizeOnDisk, payloadStart); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return a.Seek(end)
}

// saveEndOfFileLocked enqueues a deferred-append record with linkerCtx; the
// payload is written (and the header backpatched) later, when linkerCtx is
// resolved after the parent's main body. Must be called with mu held.
func (b *BulkData) saveEndOfFileLocked(linkerCtx *linker.SaveContext, flagsPos, sizePos, offsetPos int64) error {
	b.flags = b.flags.Set(PayloadAtEndOfFile)
	flagsSnapshot := uint32(b.flags)

	linkerCtx.Enqueue(linker.AppendRecord{
		FlagsPos:  flagsPos,
		SizePos:   sizePos,
		OffsetPos: offsetPos,
		Flags:     flagsSnapshot,
		Write: func(a archive.Archive) (int64, int64, error) {
			b.mu.Lock()
			defer b.mu.Unlock()

			start, err := a.Tell()
			if err != nil {
				return 0, 0, err
			}

			var payload []byte
			if b.payload != nil {
				payload = b.payload.Data
			}
			sizeOnDisk, err := encodeBulkOrElement(b.codec, b.flags, a, payload, b.elementCount)
			if err != nil {
				return 0, 0, err
			}

			b.sizeOnDisk = sizeOnDisk
			b.offsetInFile = start
			return start, sizeOnDisk, nil
		},
	})
	return nil
}

func backpatchHeader(a archive.Archive, flagsPos, sizePos, offsetPos int64, flags uint32, sizeOnDisk, offset int64) error {
	if err := a.Seek(flagsPos); err != nil {
		return err
	}
	f := flags
	if err := a.SerializeUint32(&f); err != nil {
		return err
	}

	if err := a.Seek(sizePos); err != nil {
		return err
	}
	s := int32(sizeOnDisk)
	if err := a.SerializeInt32(&s); err != nil {
		return err
	}

	if err := a.Seek(offsetPos); err != nil {
		return err
	}
	o := offset
	return a.SerializeInt64(&o)
}

// serializeTransacting implements the undo/redo archive protocol of
// spec.md §4.3's "Transacting archive" paragraph: a boolean guard,
// followed by flags/element_count/raw payload only when the guard is true.
// Transacting loads force a realloc and unconditional deserialize with no
// lazy path.
func (b *BulkData) serializeTransacting(a archive.Archive) error {
	if a.IsSaving() {
		if err := b.EnsureResident(); err != nil {
			return &Error{Op: "transact-save", Err: err}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var guard uint32
	if a.IsSaving() {
		if b.payload != nil {
			guard = 1
		}
	}
	if err := a.SerializeUint32(&guard); err != nil {
		return &Error{Op: "transact", Err: err}
	}
	if guard == 0 {
		return nil
	}

	flagsVal := uint32(b.flags)
	if err := a.SerializeUint32(&flagsVal); err != nil {
		return &Error{Op: "transact", Err: err}
	}
	b.flags = Flags(flagsVal)

	ec := b.elementCount
	if err := a.SerializeInt32(&ec); err != nil {
		return &Error{Op: "transact", Err: err}
	}

	if a.IsLoading() {
		b.freePayloadLocked()
		buf, err := bulkpool.AlignedAlloc(int(ec)*b.codec.ElementSize(), b.alignment)
		if err != nil {
			return &Error{Op: "transact", Err: err}
		}
		b.payload = buf
		b.ownsPayload = true
		b.elementCount = ec
	}

	if b.payload == nil {
		return nil
	}
	if err := a.SerializeRaw(b.payload.Data); err != nil {
		return &Error{Op: "transact", Err: err}
	}
	return nil
}

// GetCopy implements spec.md §4.6's copy-out operation.
func (b *BulkData) GetCopy(dest *[]byte, discardInternal bool) error {
	if dest == nil {
		return &Error{Op: "get-copy", Err: fmt.Errorf("bulkdata: dest must not be nil")}
	}

	b.mu.Lock()
	destHasBuf := *dest != nil
	b.mu.Unlock()

	if destHasBuf {
		return b.getCopyIntoExisting(dest, discardInternal)
	}

	if err := b.EnsureResident(); err != nil {
		return &Error{Op: "get-copy", Err: err}
	}

	b.mu.Lock()
	if b.payload == nil {
		b.mu.Unlock()
		return b.loadDirectlyInto(dest)
	}

	if discardInternal && b.canReloadLocked() {
		*dest = b.payload.Data
		b.payload = nil
		b.mu.Unlock()
		return nil
	}

	buf, err := bulkpool.AlignedAlloc(len(b.payload.Data), b.alignment)
	if err != nil {
		b.mu.Unlock()
		return &Error{Op: "get-copy", Err: err}
	}
	copy(buf.Data, b.payload.Data)
	*dest = buf.Data
	b.mu.Unlock()
	return nil
}

func (b *BulkData) getCopyIntoExisting(dest *[]byte, discardInternal bool) error {
	b.mu.Lock()
	if b.payload == nil {
		b.mu.Unlock()
		return b.loadDirectlyInto(dest)
	}
	copy(*dest, b.payload.Data)

	if discardInternal && b.canReloadLocked() {
		b.freePayloadLocked()
	}
	b.mu.Unlock()
	return nil
}

// canReloadLocked reports whether the payload could be reconstructed again
// if discarded now — either because an archive is still attached, or
// because the instance is single-use and is not expected to be read again.
// Must be called with mu held.
func (b *BulkData) canReloadLocked() bool {
	return b.attachedArchive != nil || b.flags.Has(SingleUse)
}

// loadDirectlyInto reads the payload straight from its attached archive
// into dest (allocating dest if it is nil), for the case where the payload
// is not resident at all and there is no async fetch to synchronize on.
func (b *BulkData) loadDirectlyInto(dest *[]byte) error {
	b.mu.Lock()
	archiveRef := b.attachedArchive
	offset := b.offsetInFile
	sizeOnDisk := b.sizeOnDisk
	elementCount := b.elementCount
	codec := b.codec
	flags := b.flags
	alignment := b.alignment
	b.mu.Unlock()

	if archiveRef == nil {
		return &Error{Op: "get-copy", Err: ErrMissingBacking}
	}

	logicalSize := int(elementCount) * codec.ElementSize()
	if *dest == nil {
		buf, err := bulkpool.AlignedAlloc(logicalSize, alignment)
		if err != nil {
			return &Error{Op: "get-copy", Err: err}
		}
		*dest = buf.Data
	}

	cur, err := archiveRef.Tell()
	if err != nil {
		return &Error{Op: "get-copy", Err: err}
	}
	if err := archiveRef.Seek(offset); err != nil {
		return &Error{Op: "get-copy", Err: err}
	}
	if err := decodeBulkOrElement(codec, flags, archiveRef, *dest, elementCount, sizeOnDisk); err != nil {
		logger.Warn("get-copy direct load failed", "filename", b.filename, "offset", offset, "error", err)
		return &Error{Op: "get-copy", Offset: offset, Err: err}
	}
	return archiveRef.Seek(cur)
}
