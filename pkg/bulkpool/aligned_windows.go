//go:build windows

package bulkpool

import "fmt"

// alignedAllocPlatform over-allocates by (align-1) extra bytes and trims the
// returned slice to the next aligned byte of the backing array. This is the
// portable fallback used where anonymous mmap is unavailable.
func alignedAllocPlatform(size, align int) (*Buffer, error) {
	if err := validateAlignment(align); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("bulkpool: negative size %d", size)
	}

	raw := make([]byte, size+align)
	off := alignOffset(raw, align)

	return &Buffer{
		Data:      raw[off : off+size : off+size],
		Owned:     true,
		Alignment: align,
		raw:       raw,
	}, nil
}

// freePlatform drops the reference to the backing array; the Go garbage
// collector reclaims it once unreferenced.
func freePlatform(b *Buffer) error {
	b.raw = nil
	b.Data = nil
	return nil
}

// reallocPlatform allocates a fresh aligned buffer and copies the
// overlapping prefix, mirroring the unix mmap path's allocate-copy-free
// strategy.
func reallocPlatform(b *Buffer, newSize int) error {
	next, err := alignedAllocPlatform(newSize, b.Alignment)
	if err != nil {
		return err
	}

	n := len(b.Data)
	if newSize < n {
		n = newSize
	}
	copy(next.Data[:n], b.Data[:n])

	b.Data = next.Data
	b.raw = next.raw
	return nil
}
