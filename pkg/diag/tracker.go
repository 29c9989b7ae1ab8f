// Package diag provides the process-wide bulk data tracking table of
// spec.md §5: a registry of live BulkData instances a host process can opt
// into for debugging residency and memory usage, plus a tabular dump (§6)
// and Prometheus gauges for the same data.
package diag

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/bulkdata/engine/pkg/bulkdata"
)

type entry struct {
	id    uuid.UUID
	label string
	data  *bulkdata.BulkData
}

// Usage is a point-in-time snapshot of one tracked instance, independent of
// the live BulkData pointer — safe to hold, log, or persist after the
// instance itself has been closed.
type Usage struct {
	ID           uuid.UUID
	Label        string
	Flags        bulkdata.Flags
	ElementCount int32
	Resident     bool
	AsyncPending bool
	Bytes        int64
}

// TrackerConfig configures EnableTracking. Persistent, if non-empty, names a
// directory for a BadgerDB-backed mirror of the tracking table that
// survives process restarts; empty keeps the table purely in-memory.
type TrackerConfig struct {
	Persistent string
}

var (
	mu      sync.RWMutex
	enabled bool
	entries = make(map[uuid.UUID]*entry)
	db      *badger.DB
)

// EnableTracking turns on the process-wide tracking table. Disabled by
// default (spec.md §5): a host process opts in explicitly, since every
// Register call costs a map insert and, with persistence configured, a
// BadgerDB write.
func EnableTracking(cfg TrackerConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if cfg.Persistent != "" {
		opts := badger.DefaultOptions(cfg.Persistent)
		opts.Logger = nil
		opened, err := badger.Open(opts)
		if err != nil {
			return fmt.Errorf("diag: open tracking db: %w", err)
		}
		db = opened
	}
	enabled = true
	return nil
}

// DisableTracking turns tracking off, clears the in-memory table, and
// closes the persistence handle, if any.
func DisableTracking() error {
	mu.Lock()
	defer mu.Unlock()

	enabled = false
	entries = make(map[uuid.UUID]*entry)

	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

// IsEnabled reports whether the tracking table is currently accepting
// registrations.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Register adds d to the tracking table under label, returning the
// diagnostic id assigned. A no-op returning the zero UUID if tracking is
// disabled — callers are expected to call this unconditionally and ignore
// the result when diagnostics are off.
func Register(label string, d *bulkdata.BulkData) uuid.UUID {
	mu.Lock()
	if !enabled {
		mu.Unlock()
		return uuid.UUID{}
	}
	id := uuid.New()
	e := &entry{id: id, label: label, data: d}
	entries[id] = e
	persist := db
	mu.Unlock()

	if metricsInst != nil {
		metricsInst.registeredTotal.Inc()
	}
	if persist != nil {
		persistRecord(persist, snapshotEntry(e))
	}
	return id
}

// Unregister removes id from the tracking table. A no-op for the zero UUID
// or an id that was never registered.
func Unregister(id uuid.UUID) {
	mu.Lock()
	delete(entries, id)
	persist := db
	mu.Unlock()

	if persist != nil {
		deleteRecord(persist, id.String())
	}
}

// Snapshot returns a point-in-time copy of every tracked instance's usage,
// sorted descending by resident byte count (largest object first).
func Snapshot() []Usage {
	mu.RLock()
	snap := make([]*entry, 0, len(entries))
	for _, e := range entries {
		snap = append(snap, e)
	}
	mu.RUnlock()

	out := make([]Usage, len(snap))
	for i, e := range snap {
		out[i] = snapshotEntry(e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bytes > out[j].Bytes })
	return out
}

// ClassUsage is the per-label (per-"class") aggregate of every tracked
// instance registered under the same label — e.g. every BulkData backing a
// particular texture mip chain or mesh LOD stream.
type ClassUsage struct {
	Label string
	Count int
	Bytes int64
}

// AggregateByClass groups usages by Label, summing their resident byte
// counts, and returns the result sorted descending by total Bytes.
func AggregateByClass(usages []Usage) []ClassUsage {
	byLabel := make(map[string]*ClassUsage)
	order := make([]string, 0)
	for _, u := range usages {
		c, ok := byLabel[u.Label]
		if !ok {
			c = &ClassUsage{Label: u.Label}
			byLabel[u.Label] = c
			order = append(order, u.Label)
		}
		c.Count++
		c.Bytes += u.Bytes
	}

	out := make([]ClassUsage, 0, len(order))
	for _, label := range order {
		out = append(out, *byLabel[label])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bytes > out[j].Bytes })
	return out
}

func snapshotEntry(e *entry) Usage {
	resident := e.data.IsLoaded()
	var bytes int64
	if resident {
		bytes = int64(e.data.ElementCount()) * int64(e.data.ElementSize())
	}
	return Usage{
		ID:           e.id,
		Label:        e.label,
		Flags:        e.data.GetFlags(),
		ElementCount: e.data.ElementCount(),
		Resident:     resident,
		AsyncPending: !e.data.IsAsyncComplete(),
		Bytes:        bytes,
	}
}

// DumpUsage renders the current tracking table to w as two plain, borderless
// tables (spec.md §6): a per-class summary (every tracked label's instance
// count and aggregate byte total, sorted descending by bytes) followed by
// the per-object detail (each tracked instance, also sorted descending by
// bytes), in the teacher's internal/cli/output style. Refreshes the
// Prometheus gauges from the same snapshot.
func DumpUsage(w io.Writer) error {
	usages := Snapshot()
	classes := AggregateByClass(usages)

	classTable := newUsageTable(w)
	classTable.SetHeader([]string{"Class", "Count", "Bytes"})
	for _, c := range classes {
		classTable.Append([]string{
			c.Label,
			strconv.Itoa(c.Count),
			strconv.FormatInt(c.Bytes, 10),
		})
	}
	classTable.Render()

	fmt.Fprintln(w)

	objectTable := newUsageTable(w)
	objectTable.SetHeader([]string{"ID", "Label", "Flags", "Elements", "Resident", "Bytes"})
	for _, u := range usages {
		objectTable.Append([]string{
			u.ID.String(),
			u.Label,
			u.Flags.String(),
			strconv.Itoa(int(u.ElementCount)),
			strconv.FormatBool(u.Resident),
			strconv.FormatInt(u.Bytes, 10),
		})
	}
	objectTable.Render()

	RefreshMetrics()
	return nil
}

func newUsageTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}
