// SPDX-License-Identifier: MIT
package gitx

import (
	"strconv"
	"strings"
	"time"

	"github.com/skaphos/reposync/internal/model"
)

// LogFormat separates fields with the ASCII unit separator so commit
// subjects containing "|" parse cleanly.
const LogFormat = "%H%x1f%s%x1f%an%x1f%aI"

// NumstatEntry is one line of `git diff --numstat`.
type NumstatEntry struct {
	Path      string
	Additions int
	Deletions int
	Binary    bool
}

// ParseNumstat parses `git diff --numstat` output. Binary files report "-"
// for both counts.
func ParseNumstat(output string) []NumstatEntry {
	var entries []NumstatEntry
	for _, line := range splitLines(output) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		entry := NumstatEntry{Path: parts[2]}
		if parts[0] == "-" && parts[1] == "-" {
			entry.Binary = true
		} else {
			entry.Additions, _ = strconv.Atoi(parts[0])
			entry.Deletions, _ = strconv.Atoi(parts[1])
		}
		entries = append(entries, entry)
	}
	return entries
}

// ParseNameStatus parses `git diff --name-status` output into path -> letter.
func ParseNameStatus(output string) map[string]string {
	statuses := map[string]string{}
	for _, line := range splitLines(output) {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		statuses[parts[len(parts)-1]] = parts[0][:1]
	}
	return statuses
}

// ParseLog parses output produced with LogFormat.
func ParseLog(output string) []model.Commit {
	var commits []model.Commit
	for _, line := range splitLines(output) {
		parts := strings.SplitN(line, "\x1f", 4)
		if len(parts) != 4 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, strings.TrimSpace(parts[3]))
		commits = append(commits, model.Commit{
			Hash:    parts[0],
			Message: parts[1],
			Author:  parts[2],
			Date:    date,
		})
	}
	return commits
}

// unmergedCodes are the porcelain v1 XY codes for unmerged paths.
var unmergedCodes = map[string]bool{
	"DD": true, "AU": true, "UD": true, "UA": true,
	"DU": true, "AA": true, "UU": true,
}

// ParseConflictedPaths returns the unmerged paths of `git status --porcelain=v1`.
func ParseConflictedPaths(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if len(line) < 4 || !unmergedCodes[line[:2]] {
			continue
		}
		paths = append(paths, strings.Trim(line[3:], `"`))
	}
	return paths
}

// ParseRefList parses one ref name per line.
func ParseRefList(output string) []string {
	var refs []string
	for _, line := range splitLines(output) {
		refs = append(refs, strings.TrimSpace(line))
	}
	return refs
}

func splitLines(output string) []string {
	output = strings.TrimRight(output, "\n")
	if strings.TrimSpace(output) == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
