// SPDX-License-Identifier: MIT
package reposync

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const (
	formatUsage    = "output format: table, json, yaml"
	noHeadersUsage = "when using table format, do not print headers"
	branchesUsage  = "comma-separated branch pairs to include (default: all configured pairs)"
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "o", "table", formatUsage)
}

func addNoHeadersFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("no-headers", false, noHeadersUsage)
}

func addBranchesFlag(cmd *cobra.Command) {
	cmd.Flags().String("branches", "", branchesUsage)
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "table", "json", "yaml":
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format %q (expected table, json or yaml)", format)
	}
}
