package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Memory is an in-memory Archive backed by a growable byte slice, used for
// unit tests and for the engine's TransactingArchive path (undo/redo
// records are short-lived and never touch disk).
type Memory struct {
	attachSet

	buf        []byte
	pos        int64
	loading    bool
	transact   bool
	cooked     bool
	byteOrder  binary.ByteOrder
	byteSwap   bool
	closed     bool
}

// NewMemory creates an empty Memory archive in save mode. Call
// NewMemoryFrom to read back previously-written bytes.
func NewMemory() *Memory {
	return &Memory{
		loading:   false,
		byteOrder: binary.LittleEndian,
	}
}

// NewMemoryFrom creates a Memory archive in load mode over an existing byte
// slice (e.g. the output of a prior save).
func NewMemoryFrom(data []byte) *Memory {
	return &Memory{
		buf:       append([]byte(nil), data...),
		loading:   true,
		byteOrder: binary.LittleEndian,
	}
}

// SetCooked marks this archive as representing a cooked build, enabling the
// async-streaming eligibility path.
func (m *Memory) SetCooked(cooked bool) { m.cooked = cooked }

// SetTransacting marks this archive as an undo/redo transaction archive.
func (m *Memory) SetTransacting(t bool) { m.transact = t }

// SetByteSwap forces ShouldByteSwap() to report true regardless of the
// configured byte order, for exercising the per-element codec fallback path
// in tests without needing a genuinely foreign-endian host.
func (m *Memory) SetByteSwap(swap bool) { m.byteSwap = swap }

// Bytes returns the archive's current backing buffer.
func (m *Memory) Bytes() []byte { return m.buf }

func (m *Memory) Tell() (int64, error) { return m.pos, nil }

func (m *Memory) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("archive: negative seek offset %d", offset)
	}
	m.pos = offset
	return nil
}

func (m *Memory) IsLoading() bool      { return m.loading }
func (m *Memory) IsSaving() bool       { return !m.loading }
func (m *Memory) IsTransacting() bool  { return m.transact }
func (m *Memory) IsCooked() bool       { return m.cooked }
func (m *Memory) ShouldByteSwap() bool { return m.byteSwap }
func (m *Memory) Filename() string     { return "" }

func (m *Memory) ensureCapacity(end int64) {
	if end <= int64(len(m.buf)) {
		return
	}
	grown := make([]byte, end)
	copy(grown, m.buf)
	m.buf = grown
}

func (m *Memory) SerializeRaw(buf []byte) error {
	n := int64(len(buf))
	if m.loading {
		if m.pos+n > int64(len(m.buf)) {
			return fmt.Errorf("archive: read past end of memory archive at %d, want %d bytes", m.pos, n)
		}
		copy(buf, m.buf[m.pos:m.pos+n])
	} else {
		m.ensureCapacity(m.pos + n)
		copy(m.buf[m.pos:m.pos+n], buf)
	}
	m.pos += n
	return nil
}

func (m *Memory) SerializeUint32(v *uint32) error {
	var tmp [4]byte
	if m.loading {
		if err := m.SerializeRaw(tmp[:]); err != nil {
			return err
		}
		*v = m.byteOrder.Uint32(tmp[:])
		return nil
	}
	m.byteOrder.PutUint32(tmp[:], *v)
	return m.SerializeRaw(tmp[:])
}

func (m *Memory) SerializeInt32(v *int32) error {
	u := uint32(*v)
	if err := m.SerializeUint32(&u); err != nil {
		return err
	}
	*v = int32(u)
	return nil
}

func (m *Memory) SerializeInt64(v *int64) error {
	var tmp [8]byte
	if m.loading {
		if err := m.SerializeRaw(tmp[:]); err != nil {
			return err
		}
		*v = int64(m.byteOrder.Uint64(tmp[:]))
		return nil
	}
	m.byteOrder.PutUint64(tmp[:], uint64(*v))
	return m.SerializeRaw(tmp[:])
}

func (m *Memory) SerializeCompressedSave(payload []byte, scheme CompressionScheme) (int64, error) {
	if scheme != CompressionZLIB {
		return 0, fmt.Errorf("archive: unsupported compression scheme %d", scheme)
	}

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("archive: zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("archive: zlib compress close: %w", err)
	}

	if err := m.SerializeRaw(compressed.Bytes()); err != nil {
		return 0, err
	}
	return int64(compressed.Len()), nil
}

func (m *Memory) SerializeCompressedLoad(dest []byte, sizeOnDisk int64, scheme CompressionScheme) error {
	if scheme != CompressionZLIB {
		return fmt.Errorf("archive: unsupported compression scheme %d", scheme)
	}

	compressed := make([]byte, sizeOnDisk)
	if err := m.SerializeRaw(compressed); err != nil {
		return err
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("archive: zlib reader: %w", err)
	}
	defer r.Close()

	if _, err := io.ReadFull(r, dest); err != nil {
		return fmt.Errorf("archive: zlib decompress: %w", err)
	}
	return nil
}

func (m *Memory) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.closeAll()
	return nil
}
