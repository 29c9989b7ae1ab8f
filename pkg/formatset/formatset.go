// Package formatset implements the named-format multimap of spec.md §4.7:
// a mapping from format name to an owned byte bulk-data instance, layered
// atop the core engine the way a single logical asset carries one variant
// per target platform (e.g. "PC", "Console", "Mobile").
package formatset

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bulkdata/engine/pkg/archive"
	"github.com/bulkdata/engine/pkg/bulkdata"
)

// entry pairs an owned byte bulk-data instance with a stable diagnostic id,
// generated once on first insert and never persisted (an in-process aid
// for cross-referencing the tracking table dump, not part of the wire
// format).
type entry struct {
	data *bulkdata.BulkData
	id   uuid.UUID
}

// Set is a name -> owned byte-bulk-data map, realizing spec.md §4.7's
// FormatContainer. Names are unique; empty-payload formats are elided at
// save time; the caller supplies which format names survive the current
// cook via the allowed set passed to Save.
type Set struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     *bulkdata.Config
}

// New creates an empty format set. cfg configures every bulk-data instance
// the set creates internally via FindOrInsert.
func New(cfg *bulkdata.Config) *Set {
	return &Set{entries: make(map[string]*entry), cfg: cfg}
}

// FindOrInsert returns the bulk-data instance for name, creating an empty
// byte-element one if it does not already exist — the pattern spec.md
// §4.7 names for both load-time deserialization and ordinary population.
func (s *Set) FindOrInsert(name string) *bulkdata.BulkData {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		e = &entry{data: bulkdata.NewByte(s.cfg), id: uuid.New()}
		s.entries[name] = e
	}
	return e.data
}

// Get returns the bulk-data instance for name, or nil if it is not present.
func (s *Set) Get(name string) *bulkdata.BulkData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[name]; ok {
		return e.data
	}
	return nil
}

// Remove drops name from the set entirely (distinct from bulkdata.Remove,
// which only clears a single instance's payload).
func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Names returns every registered format name in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstanceID returns the diagnostic UUID assigned to name on first insert.
// Returns the zero UUID if name is not present.
func (s *Set) InstanceID(name string) uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[name]; ok {
		return e.id
	}
	return uuid.UUID{}
}

// Save writes the format set per spec.md §4.7: the count of non-empty
// formats whose names are in allowed, then for each surviving format its
// name followed by its bulk-data, serialized with flags temporarily forced
// to ForceInlinePayload (and SingleUse, if singleUse is true) and restored
// immediately after.
func (s *Set) Save(a archive.Archive, allowed map[string]bool, singleUse bool) error {
	s.mu.RLock()
	var names []string
	for name, e := range s.entries {
		if !allowed[name] || e.data.ElementCount() == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	s.mu.RUnlock()

	count := int32(len(names))
	if err := a.SerializeInt32(&count); err != nil {
		return fmt.Errorf("formatset: write count: %w", err)
	}

	for _, name := range names {
		if err := writeString(a, name); err != nil {
			return fmt.Errorf("formatset: write name %q: %w", name, err)
		}

		d := s.Get(name)
		toForce := bulkdata.ForceInlinePayload
		if singleUse {
			toForce = toForce.Set(bulkdata.SingleUse)
		}
		if err := withForcedFlags(d, toForce, func() error {
			return d.Serialize(a, nil, false)
		}); err != nil {
			return fmt.Errorf("formatset: save format %q: %w", name, err)
		}
	}
	return nil
}

// Load reads a format set written by Save: a count, then that many
// (name, bulk-data) pairs, each materialized via FindOrInsert.
func (s *Set) Load(a archive.Archive, opts bulkdata.LoadOptions) error {
	var count int32
	if err := a.SerializeInt32(&count); err != nil {
		return fmt.Errorf("formatset: read count: %w", err)
	}
	if count < 0 {
		return fmt.Errorf("formatset: negative format count %d", count)
	}

	for i := int32(0); i < count; i++ {
		name, err := readString(a)
		if err != nil {
			return fmt.Errorf("formatset: read name %d: %w", i, err)
		}

		d := s.FindOrInsert(name)
		if err := d.Deserialize(a, opts); err != nil {
			return fmt.Errorf("formatset: deserialize format %q: %w", name, err)
		}
	}
	return nil
}

// withForcedFlags sets every bit in toForce that is not already set on d,
// runs fn, then clears exactly the bits it added — flags d already carried
// going in are left untouched.
func withForcedFlags(d *bulkdata.BulkData, toForce bulkdata.Flags, fn func() error) error {
	added := toForce.Clear(d.GetFlags())
	if added != 0 {
		d.SetFlags(added)
	}
	err := fn()
	if added != 0 {
		d.ClearFlags(added)
	}
	return err
}

func writeString(a archive.Archive, s string) error {
	n := int32(len(s))
	if err := a.SerializeInt32(&n); err != nil {
		return err
	}
	return a.SerializeRaw([]byte(s))
}

func readString(a archive.Archive) (string, error) {
	var n int32
	if err := a.SerializeInt32(&n); err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("formatset: negative string length %d", n)
	}
	buf := make([]byte, n)
	if err := a.SerializeRaw(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
