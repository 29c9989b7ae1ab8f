package bulkdata

import "strings"

// Flags is the closed bitmask describing an instance's on-disk and
// runtime behavior. The bit values match the historical layout of the
// original engine's equivalent mask, including the Unused placeholder
// bit preserved for header-layout stability rather than reuse.
type Flags uint32

const (
	// None sets no flags; default uncompressed, inline-or-eof-by-policy,
	// multi-use payload.
	None Flags = 0

	// SerializeCompressedZLIB compresses the payload with ZLIB on save and
	// decompresses on load. Implies the codec treats the instance as
	// compressed for all purposes (§4.4).
	SerializeCompressedZLIB Flags = 1 << 0

	// Unused is a historical placeholder bit, never set by this engine but
	// preserved in the mask so on-disk flags words from older writers still
	// round-trip without colliding with a newly assigned meaning.
	Unused Flags = 1 << 1

	// SingleUse marks a payload to be released immediately after its first
	// unlock; callers must not re-lock after that.
	SingleUse Flags = 1 << 2

	// ForceSingleElementSerialization forces the per-element codec path
	// even when the bulk path would otherwise apply. Load-time only — see
	// §4.3 step 2, it is cleared before every save.
	ForceSingleElementSerialization Flags = 1 << 3

	// ForceInlinePayload forces inline payload placement even when a
	// linker-save context is available.
	ForceInlinePayload Flags = 1 << 4

	// PayloadAtEndOfFile marks the payload as placed at offset_in_file
	// rather than immediately following the header.
	PayloadAtEndOfFile Flags = 1 << 5

	// ForceStreamPayload forces async-streaming eligibility regardless of
	// the payload_size > min-stream-size-threshold test.
	ForceStreamPayload Flags = 1 << 6
)

// compressedMask is every bit that implies a compressed on-disk payload.
// Currently only SerializeCompressedZLIB, but kept as a mask so a second
// compression scheme could be added without touching every call site.
const compressedMask = SerializeCompressedZLIB

// IsCompressed reports whether any compression flag is set.
func (f Flags) IsCompressed() bool { return f&compressedMask != 0 }

// Has reports whether every bit in mask is set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Set returns f with every bit in mask set.
func (f Flags) Set(mask Flags) Flags { return f | mask }

// Clear returns f with every bit in mask cleared.
func (f Flags) Clear(mask Flags) Flags { return f &^ mask }

var flagNames = []struct {
	bit  Flags
	name string
}{
	{SerializeCompressedZLIB, "CompressedZLIB"},
	{Unused, "Unused"},
	{SingleUse, "SingleUse"},
	{ForceSingleElementSerialization, "ForceSingleElementSerialization"},
	{ForceInlinePayload, "ForceInlinePayload"},
	{PayloadAtEndOfFile, "PayloadAtEndOfFile"},
	{ForceStreamPayload, "ForceStreamPayload"},
}

// String renders the set bits by name, for log lines and error messages.
func (f Flags) String() string {
	if f == None {
		return "None"
	}
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.bit) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}
