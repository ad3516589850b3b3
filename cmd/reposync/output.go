// SPDX-License-Identifier: MIT
package reposync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/reposync/internal/cliio"
)

// logOutputWriteFailure records non-fatal output write failures. Output is
// often piped to tools that close early, such as `head`.
func logOutputWriteFailure(cmd *cobra.Command, context string, err error) {
	if err == nil {
		return
	}
	debugf(cmd, "ignored output write failure (%s): %v", context, err)
}

// writeStructured writes v as json or yaml.
func writeStructured(cmd *cobra.Command, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func writeTable(cmd *cobra.Command, headers []string, rows [][]string) {
	noHeaders, _ := cmd.Flags().GetBool("no-headers")
	logOutputWriteFailure(cmd, "table", cliio.WriteTable(cmd.OutOrStdout(), noHeaders, headers, rows))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
