package bulkpool

import "unsafe"

// alignOffset returns the offset into buf of the first byte whose address is
// a multiple of align.
func alignOffset(buf []byte, align int) int {
	if len(buf) == 0 {
		return 0
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	mis := int(addr) % align
	if mis == 0 {
		return 0
	}
	return align - mis
}

// AlignedAlloc returns a new engine-owned Buffer of size bytes, aligned to
// align bytes. align must be a power of two.
func AlignedAlloc(size, align int) (*Buffer, error) {
	return alignedAllocPlatform(size, align)
}

// Realloc resizes an engine-owned Buffer in place (conceptually - the
// backing allocation may move), preserving its alignment and the
// overlapping prefix of its previous contents. It is a programming error to
// call Realloc on a Buffer with Owned == false; the caller must check that
// before calling, mirroring the engine's "realloc on non-owned buffer is
// fatal" invariant.
func Realloc(b *Buffer, newSize int) error {
	return reallocPlatform(b, newSize)
}

// Free releases an engine-owned Buffer. It is a no-op on a Buffer with
// Owned == false.
func Free(b *Buffer) error {
	if b == nil || !b.Owned {
		return nil
	}
	return freePlatform(b)
}
