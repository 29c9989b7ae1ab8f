// Package bulkpool manages allocation of the payload buffers that back a
// bulkdata.BulkData instance.
//
// Two allocation paths are provided:
//   - AlignedAlloc / Realloc / Free: aligned, engine-owned buffers backing
//     a resident payload. On platforms with golang.org/x/sys/unix this maps
//     anonymous memory directly, which is page-aligned, and over-maps and
//     slices for alignments larger than a page; on windows it uses an
//     over-allocate-and-trim strategy.
//   - Get/Put: a tiered sync.Pool of scratch buffers for the codec's
//     compressed "bounce buffer" path, where the buffer is short-lived and
//     reuse matters more than alignment.
package bulkpool

import (
	"fmt"
	"sync"
)

// Default buffer size classes for the pooled bounce-buffer path. codec.go's
// decodeBulkOrElement/encodeBulkOrElement are the only callers of Get/Put,
// and they request a bounce buffer exactly when the per-element path is
// forced (byte-swap needed or ForceSingleElementSerialization) and the
// payload is compressed; codecForElementSize only ever produces element
// widths of 2 or 4 bytes on that path (width-1 elements always take the
// bulk path, see useBulkPath). Get picks one of the three tiers below by
// requested byte size alone, whatever the element width; anything bigger
// than the large tier falls through to a direct allocation rather than
// growing the pool footprint for an infrequent case.
const (
	DefaultSmallSize  = 16 << 10 // 16KB
	DefaultMediumSize = 64 << 10 // 64KB
	DefaultLargeSize  = 1 << 20  // 1MB
)

// Buffer is an allocated payload buffer together with its ownership and
// allocation metadata. A BulkData instance never frees a Buffer whose Owned
// field is false; that memory belongs to an external allocator (the
// "resource memory hook" of the engine's external interfaces).
type Buffer struct {
	Data      []byte
	Owned     bool
	Alignment int

	// raw holds the full mmap'd region when allocated via the aligned path;
	// Data may be a sub-slice of raw when over-allocation was required to hit
	// an alignment the OS mapping granularity could not guarantee directly.
	raw []byte
}

// bouncePool is the sole scratch-buffer pool for the codec's compressed
// per-element bounce buffer (pkg/bulkdata/codec.go). Unlike the teacher's
// bufpool, nothing in this engine constructs a second, independently
// configured pool, so there is no exported Pool/Config/NewPool — Get/Put
// are the only entry points a caller needs.
var bouncePool = struct {
	small, medium, large sync.Pool
}{
	small:  sync.Pool{New: func() any { buf := make([]byte, DefaultSmallSize); return &buf }},
	medium: sync.Pool{New: func() any { buf := make([]byte, DefaultMediumSize); return &buf }},
	large:  sync.Pool{New: func() any { buf := make([]byte, DefaultLargeSize); return &buf }},
}

// Get returns a scratch byte slice of the requested length, taken from the
// smallest of the three tiers that fits it. Requests larger than the large
// tier are allocated directly and are not pooled.
func Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= DefaultSmallSize:
		bufPtr = bouncePool.small.Get().(*[]byte)
	case size <= DefaultMediumSize:
		bufPtr = bouncePool.medium.Get().(*[]byte)
	case size <= DefaultLargeSize:
		bufPtr = bouncePool.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a bounce buffer to the pool for reuse. Buffers whose capacity
// does not match a tier exactly are dropped (left for the garbage collector).
func Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case DefaultSmallSize:
		full := buf[:cap(buf)]
		bouncePool.small.Put(&full)
	case DefaultMediumSize:
		full := buf[:cap(buf)]
		bouncePool.medium.Put(&full)
	case DefaultLargeSize:
		full := buf[:cap(buf)]
		bouncePool.large.Put(&full)
	}
}

// validateAlignment rejects non-power-of-two alignments; every caller in this
// package (mmap-backed or fallback) depends on that property.
func validateAlignment(align int) error {
	if align <= 0 || align&(align-1) != 0 {
		return fmt.Errorf("bulkpool: alignment %d is not a positive power of two", align)
	}
	return nil
}
