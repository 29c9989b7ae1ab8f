// Package output renders tabular data for bulkctl, in the teacher's plain
// borderless style.
package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

func newPlainWriter(w io.Writer) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetAutoWrapText(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetCenterSeparator("")
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetBorder(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}

// PrintTable writes headers and rows as a formatted table to w.
func PrintTable(w io.Writer, headers []string, rows [][]string) error {
	t := newPlainWriter(w)
	t.SetAutoFormatHeaders(true)
	t.SetHeader(headers)
	for _, row := range rows {
		t.Append(row)
	}
	t.Render()
	return nil
}

// SimpleTable prints a two-column key/value table with no header row,
// for dumping a flat configuration or status snapshot.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	t := newPlainWriter(w)
	t.SetAutoFormatHeaders(false)
	t.SetColumnSeparator(":")
	for _, pair := range pairs {
		t.Append([]string{pair[0], pair[1]})
	}
	t.Render()
	return nil
}
