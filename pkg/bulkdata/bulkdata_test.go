package bulkdata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkdata/engine/pkg/archive"
	"github.com/bulkdata/engine/pkg/asyncio"
	"github.com/bulkdata/engine/pkg/linker"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	return &cfg
}

// setPayload reallocates b to hold data and copies it in, mirroring the
// two-step Lock/Realloc/Unlock/Lock/copy/Unlock dance a real caller does
// when it doesn't already hold a ReadWrite lock from construction.
func setPayload(t *testing.T, b *BulkData, data []byte) {
	t.Helper()
	_, err := b.Lock(ReadWrite)
	require.NoError(t, err)
	require.NoError(t, b.Realloc(int32(len(data)/b.ElementSize())))
	b.Unlock()

	buf, err := b.Lock(ReadWrite)
	require.NoError(t, err)
	copy(buf, data)
	b.Unlock()
}

// scenario 1: inline round-trip of an uncompressed byte payload.
func TestInlineRoundTripByte(t *testing.T) {
	src := NewByte(testConfig())
	setPayload(t, src, []byte("hello"))

	a := archive.NewMemory()
	require.NoError(t, src.Serialize(a, nil, false))

	loaded := archive.NewMemoryFrom(a.Bytes())
	dst := NewByte(testConfig())
	require.NoError(t, dst.Deserialize(loaded, DefaultLoadOptions()))

	got, err := dst.Lock(ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	dst.Unlock()
}

// scenario 2: end-of-file placement with header backpatch via a linker
// SaveContext, round-tripped through a second Deserialize.
func TestEndOfFilePlacementWithBackpatch(t *testing.T) {
	src := NewInt32(testConfig())
	setPayload(t, src, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0})

	a := archive.NewMemory()
	linkerCtx := linker.NewSaveContext()

	require.NoError(t, src.Serialize(a, linkerCtx, false))
	assert.Equal(t, 1, linkerCtx.Pending())

	// Simulate the parent object's own body continuing to be written
	// after the header before the linker resolves the deferred payload.
	require.NoError(t, a.SerializeRaw([]byte("parent-body-tail")))
	require.NoError(t, linkerCtx.Resolve(a))

	loaded := archive.NewMemoryFrom(a.Bytes())
	dst := NewInt32(testConfig())
	require.NoError(t, dst.Deserialize(loaded, DefaultLoadOptions()))

	got, err := dst.Lock(ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}, got)
	dst.Unlock()

	assert.True(t, dst.GetFlags().Has(PayloadAtEndOfFile))
}

// scenario 3: compressed int32 round-trip with ForceSingleElementSerialization
// against a byte-swapping archive.
func TestCompressedInt32RoundTripByteSwapped(t *testing.T) {
	src := NewInt32(testConfig())
	setPayload(t, src, []byte{
		1, 0, 0, 0,
		2, 0, 0, 0,
		3, 0, 0, 0,
		4, 0, 0, 0,
	})

	src.SetFlags(ForceSingleElementSerialization)
	require.NoError(t, src.SetStoreCompressed(true))

	a := archive.NewMemory()
	a.SetByteSwap(true)
	require.NoError(t, src.Serialize(a, nil, false))

	// ForceSingleElementSerialization is a load-time-only knob (spec.md §4.3)
	// and must be cleared by the save.
	assert.False(t, src.GetFlags().Has(ForceSingleElementSerialization))

	// The source buffer must be restored to host order after save — the
	// byte-swap-around-write must not leak into the caller's live payload.
	roundTripped, err := src.Lock(ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0}, roundTripped)
	src.Unlock()

	loaded := archive.NewMemoryFrom(a.Bytes())
	loaded.SetByteSwap(true)
	dst := NewInt32(testConfig())
	require.NoError(t, dst.Deserialize(loaded, DefaultLoadOptions()))

	got, err := dst.Lock(ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0}, got)
	dst.Unlock()
}

// scenario 4: SingleUse releases the payload immediately after Unlock.
func TestSingleUseReleasesOnUnlock(t *testing.T) {
	b := NewByte(testConfig())
	setPayload(t, b, []byte{1, 2, 3, 4})

	b.SetFlags(SingleUse)

	_, err := b.Lock(ReadOnly)
	require.NoError(t, err)
	assert.True(t, b.IsLoaded())
	b.Unlock()

	assert.False(t, b.IsLoaded())
}

// scenario 5: async streaming harvest for a large cooked-archive payload.
func TestAsyncStreamingHarvest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.bulk")

	cfg := DefaultConfig()
	cfg.MinStreamSize = 8
	cfg.Cooked = true

	src := NewByte(&cfg)
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	setPayload(t, src, payload)

	file, err := archive.OpenForSave(archive.FileConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, src.Serialize(file, nil, false))
	require.NoError(t, file.Close())

	queue := asyncio.NewQueue(asyncio.DefaultConfig())
	queue.Start()
	defer queue.Stop(time.Second)

	loader, err := archive.OpenForLoad(path, false)
	require.NoError(t, err)
	loader.SetCooked(true)
	defer loader.Close()

	dst := NewByte(&cfg).WithQueue(queue)
	opts := DefaultLoadOptions()
	require.NoError(t, dst.Deserialize(loader, opts))

	// The payload must not be resident yet — Deserialize should have
	// dispatched it to the queue and skipped the bytes inline.
	assert.False(t, dst.IsLoaded())

	got, err := dst.Lock(ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	dst.Unlock()
}

// scenario 6: a ReadWrite lock detaches the instance from its source
// archive, so a later archive teardown does not touch it again.
func TestReadWriteLockDetaches(t *testing.T) {
	a := archive.NewMemory()
	b := NewByte(testConfig())
	setPayload(t, b, []byte{1, 2})

	require.NoError(t, b.Serialize(a, nil, false))

	loaded := archive.NewMemoryFrom(a.Bytes())
	require.NoError(t, b.Deserialize(loaded, DefaultLoadOptions()))

	_, err := b.Lock(ReadWrite)
	require.NoError(t, err)
	b.Unlock()

	// Closing the archive must not panic or otherwise touch b — it was
	// detached the moment the ReadWrite lock was taken.
	require.NoError(t, loaded.Close())
}

func TestSetFlagsClearFlagsRoundTrip(t *testing.T) {
	b := NewByte(testConfig())
	b.SetFlags(SingleUse | ForceInlinePayload)
	assert.True(t, b.GetFlags().Has(SingleUse))
	assert.True(t, b.GetFlags().Has(ForceInlinePayload))

	b.ClearFlags(SingleUse)
	assert.False(t, b.GetFlags().Has(SingleUse))
	assert.True(t, b.GetFlags().Has(ForceInlinePayload))
}

func TestSetStoreCompressedClearsForceInlinePayload(t *testing.T) {
	b := NewByte(testConfig())
	b.SetFlags(ForceInlinePayload)
	require.NoError(t, b.SetStoreCompressed(true))
	assert.False(t, b.GetFlags().Has(ForceInlinePayload))
	assert.True(t, b.GetFlags().IsCompressed())
}

func TestReallocUpdatesElementCount(t *testing.T) {
	b := NewInt32(testConfig())
	_, err := b.Lock(ReadWrite)
	require.NoError(t, err)
	require.NoError(t, b.Realloc(10))
	assert.EqualValues(t, 10, b.ElementCount())
	b.Unlock()
}

func TestReallocWithoutLockPanics(t *testing.T) {
	b := NewByte(testConfig())
	assert.Panics(t, func() {
		_ = b.Realloc(4)
	})
}

func TestRemoveClearsPayload(t *testing.T) {
	b := NewByte(testConfig())
	setPayload(t, b, []byte{1, 2, 3, 4})

	b.Remove()
	assert.False(t, b.IsLoaded())
	assert.EqualValues(t, 0, b.ElementCount())
}

func TestGetCopyDiscardInternalWithoutBackingKeepsPayload(t *testing.T) {
	b := NewByte(testConfig())
	setPayload(t, b, []byte{9, 8, 7})

	var dest []byte
	require.NoError(t, b.GetCopy(&dest, true))
	assert.Equal(t, []byte{9, 8, 7}, dest)
	// No attached archive and not SingleUse: the payload must not have
	// been discarded, since it could not be reconstructed again.
	assert.True(t, b.IsLoaded())
}

func TestTransactingSaveLoadRoundTrip(t *testing.T) {
	b := NewInt32(testConfig())
	setPayload(t, b, []byte{5, 0, 0, 0, 6, 0, 0, 0})

	a := archive.NewMemory()
	a.SetTransacting(true)
	require.NoError(t, b.Serialize(a, nil, false))

	loaded := archive.NewMemoryFrom(a.Bytes())
	loaded.SetTransacting(true)
	dst := NewInt32(testConfig())
	require.NoError(t, dst.Deserialize(loaded, DefaultLoadOptions()))

	got, err := dst.Lock(ReadOnly)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 0, 0, 0, 6, 0, 0, 0}, got)
	dst.Unlock()
}

func TestNewBySizeRejectsUnknownWidth(t *testing.T) {
	_, err := NewBySize(3, testConfig())
	assert.Error(t, err)
}

func TestNewBySizeKnownWidths(t *testing.T) {
	for _, size := range []int{1, 2, 4} {
		d, err := NewBySize(size, testConfig())
		require.NoError(t, err)
		assert.Equal(t, size, d.ElementSize())
	}
}
