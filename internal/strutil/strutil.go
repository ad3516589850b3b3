// SPDX-License-Identifier: MIT
// Package strutil holds small string helpers for flag parsing.
package strutil

import "strings"

// SplitCSV splits a comma-separated list, trimming space and dropping
// empty items.
func SplitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
