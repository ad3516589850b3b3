// SPDX-License-Identifier: MIT
package tableutil

import (
	"bytes"
	"io"

	"github.com/olekukonko/tablewriter"
)

// New creates a borderless, left-aligned table with RepoSync's default
// spacing settings.
func New(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// Render writes rows as a table, with a header row unless noHeaders is set.
// The table is built in memory so write errors on out are reported.
func Render(out io.Writer, noHeaders bool, headers []string, rows [][]string) error {
	var buf bytes.Buffer
	table := New(&buf)
	if !noHeaders {
		table.SetHeader(headers)
	}
	table.AppendBulk(rows)
	table.Render()
	_, err := out.Write(buf.Bytes())
	return err
}
