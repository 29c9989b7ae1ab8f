package bulkdata

import "fmt"

// Sentinel errors for expected runtime conditions. Programming-error
// invariant violations do not use these — they panic via invariant().
var (
	// ErrMissingBacking is returned by GetCopy when the payload is not
	// resident and no archive is attached to read it from.
	ErrMissingBacking = errNotFound("missing backing file")

	// ErrNotResident names the condition of a payload that is needed in
	// memory but is not resident; no function in this package returns it.
	ErrNotResident = errNotFound("payload not resident")
)

type sentinel string

func errNotFound(msg string) error { return sentinel(msg) }
func (s sentinel) Error() string   { return string(s) }

// Error wraps a sentinel bulk data error with structured debugging
// context, modeled on the teacher's PayloadError: Op plus the fields most
// useful for diagnosing a bulk-data failure, and an Unwrap so errors.Is
// keeps working against the wrapped sentinel.
type Error struct {
	// Op is the operation that failed: "load", "save", "lock", "realloc",
	// "async-fetch", "get-copy".
	Op string

	// Flags is the instance's flags bitmask at the time of failure.
	Flags Flags

	// ElementCount is the instance's logical element count at the time of
	// failure.
	ElementCount int32

	// Offset is the archive offset involved, when relevant. -1 if n/a.
	Offset int64

	// Filename is the backing file path involved, when relevant.
	Filename string

	// Err is the wrapped sentinel error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bulkdata %s: %s (flags=%s, elementCount=%d, offset=%d, filename=%q)",
		e.Op, e.Err, e.Flags, e.ElementCount, e.Offset, e.Filename)
}

func (e *Error) Unwrap() error { return e.Err }

// invariant panics if cond is false. Used for the programming-error traps
// spec.md §7 names explicitly (bad lock state, realloc on a non-owned
// buffer or with a negative count, unlock-when-unlocked) — conditions that
// must never happen in a correct caller and are never recovered. Detaching
// an instance that is not attached is not trapped: detach is then a no-op.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("bulkdata: invariant violated: "+format, args...))
	}
}
