//go:build !windows

package bulkpool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pageSize caches the platform page size; alignments that divide it are
// satisfied exactly by an anonymous mmap, which the kernel always returns
// page-aligned. Larger alignments over-map and slice.
var pageSize = unix.Getpagesize()

// alignedAllocPlatform maps anonymous memory for size bytes. The mapping is
// always page-aligned, so it exactly satisfies any alignment request that
// divides the page size; for a larger alignment it maps align extra bytes
// and returns the first aligned size-byte window of the mapping.
func alignedAllocPlatform(size, align int) (*Buffer, error) {
	if err := validateAlignment(align); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("bulkpool: negative size %d", size)
	}

	extra := 0
	if align > pageSize {
		extra = align
	}
	mapSize := size + extra
	if mapSize == 0 {
		mapSize = 1 // unix.Mmap rejects a zero-length mapping
	}

	data, err := unix.Mmap(-1, 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("bulkpool: mmap %d bytes: %w", mapSize, err)
	}

	off := 0
	if extra > 0 {
		off = alignOffset(data, align)
	}

	return &Buffer{
		Data:      data[off : off+size],
		Owned:     true,
		Alignment: align,
		raw:       data,
	}, nil
}

// freePlatform releases a mapping obtained from alignedAllocPlatform.
func freePlatform(b *Buffer) error {
	if b.raw == nil {
		return nil
	}
	if err := unix.Munmap(b.raw); err != nil {
		return fmt.Errorf("bulkpool: munmap: %w", err)
	}
	b.raw = nil
	b.Data = nil
	return nil
}

// reallocPlatform remaps to a new size, copying the overlapping prefix. mmap
// offers no portable in-place resize across OSes in this pack's dependency
// set, so realloc is allocate-copy-free, matching the cost a C realloc that
// has to relocate would already have.
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

	if err := freePlatform(b); err != nil {
		_ = freePlatform(next)
		return err
	}

	b.Data = next.Data
	b.raw = next.raw
	return nil
}
