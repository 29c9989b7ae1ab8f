// Package bulkdata implements the engine: a mechanism for attaching large,
// optionally compressed, lazily-loaded, optionally asynchronously-streamed
// byte payloads to persisted objects. A BulkData instance's in-memory
// presence is decoupled from its owner's lifetime — the payload may live
// on disk at a known offset and be paged in on first access, copied out on
// demand, resized in place, written back during a save pass, or discarded
// without ever being loaded.
package bulkdata

import (
	"sync"

	"github.com/bulkdata/engine/internal/logger"
	"github.com/bulkdata/engine/pkg/archive"
	"github.com/bulkdata/engine/pkg/asyncio"
	"github.com/bulkdata/engine/pkg/bulkpool"
)

// LockMode selects how Lock exposes the payload buffer.
type LockMode int

const (
	// ReadOnly grants a read-only view without detaching from the source
	// archive.
	ReadOnly LockMode = iota
	// ReadWrite grants a mutable view and detaches from the source archive
	// first, so the archive can never write through stale bytes over a
	// mutation made while locked.
	ReadWrite
)

func (m LockMode) String() string {
	if m == ReadWrite {
		return "ReadWrite"
	}
	return "ReadOnly"
}

type lockState int

const (
	unlocked lockState = iota
	lockedReadOnly
	lockedReadWrite
)

// noBacking is the sentinel for size_on_disk/offset_in_file meaning "no
// backing", per spec.md §3.
const noBacking = -1

// BulkData is the central entity of the engine. See spec.md §3 for the
// full invariant list; each is enforced at the call sites below rather
// than restated here.
type BulkData struct {
	mu sync.Mutex

	flags        Flags
	elementCount int32
	codec        ElementCodec
	alignment    int

	sizeOnDisk   int64
	offsetInFile int64

	payload     *bulkpool.Buffer
	ownsPayload bool

	lock lockState

	attachedArchive archive.Archive
	filename        string

	asyncFuture *asyncio.Future
	queue       *asyncio.Queue

	cfg *Config
}

// New creates an empty instance using codec for per-element serialization
// and cfg for policy (nil selects DefaultConfig()).
func New(codec ElementCodec, cfg *Config) *BulkData {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	return &BulkData{
		codec:        codec,
		alignment:    cfg.DefaultAlignment,
		sizeOnDisk:   noBacking,
		offsetInFile: noBacking,
		ownsPayload:  true,
		cfg:          cfg,
	}
}

// NewByte creates an empty 1-byte-element instance.
func NewByte(cfg *Config) *BulkData { return New(ByteCodec{}, cfg) }

// NewWord creates an empty 2-byte-element instance.
func NewWord(cfg *Config) *BulkData { return New(WordCodec{}, cfg) }

// NewInt32 creates an empty 4-byte signed-integer-element instance.
func NewInt32(cfg *Config) *BulkData { return New(Int32Codec{}, cfg) }

// NewFloat32 creates an empty 4-byte float-element instance.
func NewFloat32(cfg *Config) *BulkData { return New(Float32Codec{}, cfg) }

// NewBySize creates an empty instance using one of the four built-in
// element widths (1, 2, or 4 bytes), for callers that only know the
// element size at runtime (e.g. a format registry reading a header whose
// element width varies by format). Returns an error for any other width —
// a custom ElementCodec must be supplied via New for those.
func NewBySize(elementSize int, cfg *Config) (*BulkData, error) {
	codec, err := codecForElementSize(elementSize)
	if err != nil {
		return nil, err
	}
	return New(codec, cfg), nil
}

// WithQueue attaches the background fetch pool this instance dispatches
// async loads to. A nil queue disables async streaming (every eligible
// load falls back to synchronous read).
func (b *BulkData) WithQueue(q *asyncio.Queue) *BulkData {
	b.queue = q
	return b
}

// ElementSize returns the fixed width in bytes of one element.
func (b *BulkData) ElementSize() int { return b.codec.ElementSize() }

// ElementCount returns the logical length of the payload in elements.
func (b *BulkData) ElementCount() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elementCount
}

// GetFlags returns the current flags bitmask.
func (b *BulkData) GetFlags() Flags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags
}

// SetFlags sets every bit in mask.
func (b *BulkData) SetFlags(mask Flags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags = b.flags.Set(mask)
}

// ClearFlags clears every bit in mask.
func (b *BulkData) ClearFlags(mask Flags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags = b.flags.Clear(mask)
}

// SetAlignment sets the allocation alignment used by future Realloc/load
// calls. Does not reallocate an already-resident payload.
func (b *BulkData) SetAlignment(align int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alignment = align
}

// SetStoreCompressed toggles SerializeCompressedZLIB. Per spec.md invariant
// 4, Compressed and ForceInlinePayload are mutually exclusive once this is
// set to true: ForceInlinePayload is cleared. Before switching compression
// on, any pending async fetch is harvested via EnsureResident (spec.md §7's
// only recoverable error case); a payload that is not resident and has no
// fetch pending is not reloaded.
func (b *BulkData) SetStoreCompressed(compressed bool) error {
	if compressed {
		if err := b.EnsureResident(); err != nil {
			return &Error{Op: "set-store-compressed", Err: err}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if compressed {
		b.flags = b.flags.Set(SerializeCompressedZLIB).Clear(ForceInlinePayload)
	} else {
		b.flags = b.flags.Clear(SerializeCompressedZLIB)
	}
	return nil
}

// IsLoaded reports whether the payload is currently resident in memory.
// A pending, unharvested async fetch does not count (invariant 1).
func (b *BulkData) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payload != nil
}

// Lock acquires the payload for read-only or read-write access, ensuring
// it is resident first (synchronizing on any pending async fetch). A
// ReadWrite lock detaches from the source archive before returning
// (spec.md §4.1): the archive can no longer write through stale bytes
// over whatever mutation happens while locked. An instance with no payload
// (never populated, removed, or released by SingleUse) returns a nil slice;
// under a ReadWrite lock, Realloc then allocates one.
func (b *BulkData) Lock(mode LockMode) ([]byte, error) {
	if err := b.ensureResidentLocked(); err != nil {
		return nil, &Error{Op: "lock", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	invariant(b.lock == unlocked, "Lock called while already locked (%v)", b.lock)

	if mode == ReadWrite {
		b.detachLocked()
		b.lock = lockedReadWrite
	} else {
		b.lock = lockedReadOnly
	}

	if b.payload == nil {
		return nil, nil
	}
	return b.payload.Data, nil
}

// LockReadOnly is shorthand for Lock(ReadOnly).
func (b *BulkData) LockReadOnly() ([]byte, error) {
	return b.Lock(ReadOnly)
}

// Realloc changes the logical element count and reallocates the payload
// buffer to n*ElementSize() bytes at the instance's alignment. Valid only
// under a ReadWrite lock; fatal (invariant trap) if the buffer is
// externally owned.
func (b *BulkData) Realloc(n int32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	invariant(b.lock == lockedReadWrite, "Realloc called without a ReadWrite lock (state=%v)", b.lock)
	invariant(b.ownsPayload, "Realloc called on an externally-owned buffer")
	invariant(n >= 0, "Realloc called with negative element count %d", n)

	newSize := int(n) * b.codec.ElementSize()
	if b.payload == nil {
		buf, err := bulkpool.AlignedAlloc(newSize, b.alignment)
		if err != nil {
			return &Error{Op: "realloc", Flags: b.flags, ElementCount: n, Err: err}
		}
		b.payload = buf
	} else if err := bulkpool.Realloc(b.payload, newSize); err != nil {
		return &Error{Op: "realloc", Flags: b.flags, ElementCount: n, Err: err}
	}

	b.elementCount = n
	return nil
}

// Unlock releases the lock. If SingleUse is set, the payload is freed
// (when owned) and the in-memory pointer cleared.
func (b *BulkData) Unlock() {
	b.mu.Lock()
	defer b.mu.Unlock()

	invariant(b.lock != unlocked, "Unlock called on an already-unlocked instance")
	b.lock = unlocked

	if b.flags.Has(SingleUse) {
		b.freePayloadLocked()
	}
}

// Remove clears the payload to element_count = 0, freeing an
// engine-owned buffer.
func (b *BulkData) Remove() {
	b.mu.Lock()
	defer b.mu.Unlock()

	invariant(b.lock == unlocked, "Remove called while locked")
	b.freePayloadLocked()
	b.elementCount = 0
	b.sizeOnDisk = noBacking
	b.offsetInFile = noBacking
}

// Close awaits any outstanding async fetch, detaches from the source
// archive, and frees an owned payload — the engine's destructor contract
// (invariant 7).
func (b *BulkData) Close() error {
	if err := b.ensureResidentLocked(); err != nil {
		return &Error{Op: "close", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	invariant(b.lock == unlocked, "Close called while locked")
	b.detachLocked()
	b.freePayloadLocked()
	return nil
}

// OnArchiveDetaching implements archive.Attachable: the archive calls
// this when it is closing or otherwise tearing down, so this instance
// forgets the reference without the archive having to know our type.
func (b *BulkData) OnArchiveDetaching() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attachedArchive != nil {
		logger.Debug("bulk data archive detached by teardown", "filename", b.filename)
		b.attachedArchive = nil
	}
}

// detachLocked must be called with mu held.
func (b *BulkData) detachLocked() {
	if b.attachedArchive != nil {
		b.attachedArchive.Detach(b)
		b.attachedArchive = nil
	}
}

// freePayloadLocked must be called with mu held.
func (b *BulkData) freePayloadLocked() {
	if b.payload == nil {
		return
	}
	if b.ownsPayload {
		if err := bulkpool.Free(b.payload); err != nil {
			logger.Warn("failed to free bulk data payload", "error", err)
		}
	}
	b.payload = nil
}

// EnsureResident synchronizes on any pending async fetch and, if the
// payload is still not resident afterward, leaves it as-is — residency
// after a harvest failure is reported via the returned error rather than
// silently treated as loaded.
func (b *BulkData) EnsureResident() error {
	return b.ensureResidentLocked()
}

func (b *BulkData) ensureResidentLocked() error {
	b.mu.Lock()
	future := b.asyncFuture
	alignment := b.alignment
	b.mu.Unlock()

	if future == nil {
		return nil
	}

	data, err := future.Harvest()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.asyncFuture = nil
	if err != nil {
		return err
	}

	// The harvested slice came from a plain make() on the worker goroutine
	// (asyncio knows nothing about alignment); copy it into a properly
	// aligned, engine-owned buffer before it becomes the resident payload.
	buf, allocErr := bulkpool.AlignedAlloc(len(data), alignment)
	if allocErr != nil {
		return allocErr
	}
	copy(buf.Data, data)
	b.payload = buf
	b.ownsPayload = true
	return nil
}

// IsAsyncComplete is a non-blocking probe for a pending background fetch.
// Returns true if there is no fetch pending at all.
func (b *BulkData) IsAsyncComplete() bool {
	b.mu.Lock()
	future := b.asyncFuture
	b.mu.Unlock()

	if future == nil {
		return true
	}
	return future.Probe()
}

// WaitForAsync blocks until any pending fetch completes, synchronizing
// its result into the payload exactly as EnsureResident does.
func (b *BulkData) WaitForAsync() error {
	return b.ensureResidentLocked()
}
