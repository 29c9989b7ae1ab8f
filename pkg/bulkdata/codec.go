package bulkdata

import (
	"encoding/binary"
	"fmt"

	"github.com/bulkdata/engine/pkg/archive"
	"github.com/bulkdata/engine/pkg/bulkpool"
)

// ElementCodec is the capability interface the engine uses instead of a
// generic BulkData[T] or an inheritance hierarchy: the four built-in
// element widths differ only in size and per-element serialize, so a
// small interface carrying both is enough (spec.md §9's "tagged variant
// carrying element_size and a function pointer" translated to Go).
type ElementCodec interface {
	// ElementSize returns the fixed width in bytes of one element.
	ElementSize() int

	// SerializeElement reads or writes exactly ElementSize() bytes at
	// elem[0:ElementSize()], byte-swapping if a.ShouldByteSwap().
	SerializeElement(a archive.Archive, elem []byte) error

	// SwapBytes reverses the byte order of one element in place. Used by
	// the compressed per-element path, which byte-swaps a bounce buffer
	// directly rather than through an Archive round-trip.
	SwapBytes(elem []byte)
}

// ByteCodec serializes 1-byte elements (no byte-swap possible).
type ByteCodec struct{}

func (ByteCodec) ElementSize() int { return 1 }

func (ByteCodec) SerializeElement(a archive.Archive, elem []byte) error {
	return a.SerializeRaw(elem[:1])
}

func (ByteCodec) SwapBytes([]byte) {}

// WordCodec serializes 2-byte elements, byte-swapping when the archive
// requires it.
type WordCodec struct{}

func (WordCodec) ElementSize() int { return 2 }

func (c WordCodec) SerializeElement(a archive.Archive, elem []byte) error {
	return serializeElementSwapped(c, a, elem[:2])
}

func (WordCodec) SwapBytes(elem []byte) {
	elem[0], elem[1] = elem[1], elem[0]
}

// Int32Codec serializes 4-byte signed integer elements.
type Int32Codec struct{}

func (Int32Codec) ElementSize() int { return 4 }

func (c Int32Codec) SerializeElement(a archive.Archive, elem []byte) error {
	return serializeElementSwapped(c, a, elem[:4])
}

func (Int32Codec) SwapBytes(elem []byte) { swap4(elem) }

// Float32Codec serializes 4-byte IEEE-754 float elements. Byte-swap
// applies identically to int32 and float32 since both are 4-byte words
// from the codec's point of view.
type Float32Codec struct{}

func (Float32Codec) ElementSize() int { return 4 }

func (c Float32Codec) SerializeElement(a archive.Archive, elem []byte) error {
	return serializeElementSwapped(c, a, elem[:4])
}

func (Float32Codec) SwapBytes(elem []byte) { swap4(elem) }

// serializeElementSwapped round-trips one element through a, byte-swapping
// around the write on save (disk gets foreign-order bytes, elem is restored
// to host order afterward since it aliases the caller's live payload) and
// after a successful read on load.
func serializeElementSwapped(c ElementCodec, a archive.Archive, elem []byte) error {
	swap := a.ShouldByteSwap()
	if swap && a.IsSaving() {
		c.SwapBytes(elem)
	}
	err := a.SerializeRaw(elem)
	if swap && a.IsSaving() {
		c.SwapBytes(elem)
	} else if swap && a.IsLoading() && err == nil {
		c.SwapBytes(elem)
	}
	return err
}

func swap4(elem []byte) {
	binary.BigEndian.PutUint32(elem, binary.LittleEndian.Uint32(elem))
}

func codecForElementSize(size int) (ElementCodec, error) {
	switch size {
	case 1:
		return ByteCodec{}, nil
	case 2:
		return WordCodec{}, nil
	case 4:
		return Int32Codec{}, nil
	default:
		return nil, fmt.Errorf("bulkdata: no built-in codec for element size %d, supply a custom ElementCodec", size)
	}
}

// useBulkPath implements the dispatch rule of spec.md §4.4: the per-element
// path is mandatory whenever the archive needs byte-swapping (a raw memcpy
// cannot swap words) or the caller explicitly forced it; single-byte
// elements have no byte order, so they are always eligible for the bulk
// path regardless of the force flag.
func useBulkPath(codec ElementCodec, flags Flags, a archive.Archive) bool {
	if codec.ElementSize() == 1 {
		return true
	}
	return !flags.Has(ForceSingleElementSerialization) && !a.ShouldByteSwap()
}

// decodeBulkOrElement reads a payload already sized to elementCount *
// codec.ElementSize() bytes from a, choosing between the bulk and
// per-element codec paths per spec.md §4.4. a must be positioned at the
// start of the payload region.
func decodeBulkOrElement(codec ElementCodec, flags Flags, a archive.Archive, dest []byte, elementCount int32, sizeOnDisk int64) error {
	elemSize := codec.ElementSize()
	logicalSize := int(elementCount) * elemSize
	if logicalSize == 0 || flags.Has(Unused) {
		return nil
	}

	if useBulkPath(codec, flags, a) {
		if flags.IsCompressed() {
			return a.SerializeCompressedLoad(dest, sizeOnDisk, archive.CompressionZLIB)
		}
		return a.SerializeRaw(dest)
	}

	if flags.IsCompressed() {
		bounce := bulkpool.Get(logicalSize)
		defer bulkpool.Put(bounce)

		if err := a.SerializeCompressedLoad(bounce, sizeOnDisk, archive.CompressionZLIB); err != nil {
			return err
		}
		for i := 0; i < int(elementCount); i++ {
			off := i * elemSize
			elem := dest[off : off+elemSize]
			copy(elem, bounce[off:off+elemSize])
			if a.ShouldByteSwap() {
				codec.SwapBytes(elem)
			}
		}
		return nil
	}

	for i := 0; i < int(elementCount); i++ {
		off := i * elemSize
		if err := codec.SerializeElement(a, dest[off:off+elemSize]); err != nil {
			return err
		}
	}
	return nil
}

// encodeBulkOrElement writes src (already sized to elementCount *
// codec.ElementSize() bytes) to a, returning the number of bytes the
// payload occupies on disk (equal to len(src) unless compressed).
func encodeBulkOrElement(codec ElementCodec, flags Flags, a archive.Archive, src []byte, elementCount int32) (int64, error) {
	elemSize := codec.ElementSize()
	logicalSize := int(elementCount) * elemSize
	if logicalSize == 0 || flags.Has(Unused) {
		return 0, nil
	}

	if useBulkPath(codec, flags, a) {
		if flags.IsCompressed() {
			return a.SerializeCompressedSave(src, archive.CompressionZLIB)
		}
		if err := a.SerializeRaw(src); err != nil {
			return 0, err
		}
		return int64(logicalSize), nil
	}

	if flags.IsCompressed() {
		bounce := bulkpool.Get(logicalSize)
		defer bulkpool.Put(bounce)

		copy(bounce, src)
		if a.ShouldByteSwap() {
			for i := 0; i < int(elementCount); i++ {
				off := i * elemSize
				codec.SwapBytes(bounce[off : off+elemSize])
			}
		}
		return a.SerializeCompressedSave(bounce, archive.CompressionZLIB)
	}

	for i := 0; i < int(elementCount); i++ {
		off := i * elemSize
		if err := codec.SerializeElement(a, src[off:off+elemSize]); err != nil {
			return 0, err
		}
	}
	return int64(logicalSize), nil
}
