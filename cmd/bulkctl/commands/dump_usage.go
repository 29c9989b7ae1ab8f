package commands

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/bulkdata/engine/internal/cli/output"
	"github.com/bulkdata/engine/pkg/diag"
)

func printUsageTable(cmd *cobra.Command, rows [][]string) error {
	headers := []string{"ID", "Label", "Flags", "Elements", "Resident", "Bytes"}
	return output.PrintTable(cmd.OutOrStdout(), headers, rows)
}

func printClassTable(cmd *cobra.Command, classes []diag.ClassUsage) error {
	headers := []string{"Class", "Count", "Bytes"}
	rows := make([][]string, 0, len(classes))
	for _, c := range classes {
		rows = append(rows, []string{c.Label, fmt.Sprintf("%d", c.Count), fmt.Sprintf("%d", c.Bytes)})
	}
	return output.PrintTable(cmd.OutOrStdout(), headers, rows)
}

var dumpUsageDB string

var dumpUsageCmd = &cobra.Command{
	Use:   "dump-usage",
	Short: "Print the bulk data tracking table",
	Long: `Prints the process-wide tracking table (spec.md §5/§6). With no
flags, this only sees instances tracked by the bulkctl process itself,
which is never useful standalone — pass --db to read a BadgerDB tracking
snapshot persisted by another process via diag.EnableTracking(TrackerConfig{
Persistent: ...}).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dumpUsageDB == "" {
			return diag.DumpUsage(cmd.OutOrStdout())
		}

		opts := badger.DefaultOptions(dumpUsageDB).WithReadOnly(true)
		opts.Logger = nil
		db, err := badger.Open(opts)
		if err != nil {
			return fmt.Errorf("open tracking db %q: %w", dumpUsageDB, err)
		}
		defer db.Close()

		records, err := diag.LoadPersisted(db)
		if err != nil {
			return err
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Bytes > records[j].Bytes })

		if err := printClassTable(cmd, diag.AggregateByClass(records)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())

		rows := make([][]string, 0, len(records))
		for _, u := range records {
			rows = append(rows, []string{
				u.ID.String(),
				u.Label,
				u.Flags.String(),
				fmt.Sprintf("%d", u.ElementCount),
				fmt.Sprintf("%t", u.Resident),
				fmt.Sprintf("%d", u.Bytes),
			})
		}
		return printUsageTable(cmd, rows)
	},
}

func init() {
	dumpUsageCmd.Flags().StringVar(&dumpUsageDB, "db", "", "read a persisted tracking table from this BadgerDB directory instead of the in-process table")
}
