// SPDX-License-Identifier: MIT
// Package diffinspect computes the read-only difference a sync would bring
// into the target branch.
//
// File status comes from git's name-status letters with rename detection
// disabled. When those are unavailable the status is inferred from line
// counts: pure insertions are "added", pure deletions are "deleted" and
// anything else is "modified". The inference misreports files that were
// emptied or created empty, which is accepted.
package diffinspect

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/gitx"
	"github.com/skaphos/reposync/internal/model"
)

// Tree is a local git working tree to inspect.
type Tree interface {
	Dir() string
	Runner() gitx.Runner
}

// Inspector produces SyncDiff snapshots.
type Inspector struct {
	log logrus.FieldLogger
}

// New returns an Inspector that logs to log.
func New(log logrus.FieldLogger) *Inspector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Inspector{log: log}
}

// Diff reports the files and commits present on headRef (the source side)
// relative to baseRef (the target side). Bare branch names resolve against
// origin. A missing baseRef yields an empty diff.
func (i *Inspector) Diff(ctx context.Context, tree Tree, baseRef, headRef string) (model.SyncDiff, error) {
	base := NormalizeRef(baseRef)
	head := NormalizeRef(headRef)
	diff := model.SyncDiff{Files: []model.FileChange{}, Commits: []model.Commit{}}

	runner, dir := tree.Runner(), tree.Dir()
	refs, err := gitx.Refs(ctx, runner, dir)
	if err != nil {
		return diff, err
	}
	if !slices.Contains(refs, base) {
		i.log.WithField("ref", base).Debug("base ref missing, treating as first sync")
		return diff, nil
	}

	entries, err := gitx.DiffNumstat(ctx, runner, dir, base, head)
	if err != nil {
		return diff, fmt.Errorf("diff %s..%s: %w", base, head, err)
	}
	statuses, err := gitx.DiffNameStatus(ctx, runner, dir, base, head)
	if err != nil {
		i.log.WithError(err).Debug("name-status unavailable, inferring status from line counts")
		statuses = nil
	}
	for _, entry := range entries {
		diff.Files = append(diff.Files, model.FileChange{
			Path:      entry.Path,
			Status:    classify(entry, statuses[entry.Path]),
			Additions: entry.Additions,
			Deletions: entry.Deletions,
			Binary:    entry.Binary,
		})
	}

	commits, err := gitx.Log(ctx, runner, dir, base, head)
	if err != nil {
		return diff, fmt.Errorf("log %s..%s: %w", base, head, err)
	}
	if commits != nil {
		diff.Commits = commits
	}
	return diff, nil
}

// NormalizeRef qualifies a bare branch name with the origin remote.
func NormalizeRef(ref string) string {
	if strings.Contains(ref, "/") {
		return ref
	}
	return "origin/" + ref
}

func classify(entry gitx.NumstatEntry, letter string) model.FileStatus {
	switch letter {
	case "A":
		return model.FileAdded
	case "D":
		return model.FileDeleted
	case "R":
		return model.FileRenamed
	case "M", "T":
		return model.FileModified
	}
	switch {
	case entry.Additions > 0 && entry.Deletions == 0:
		return model.FileAdded
	case entry.Additions == 0 && entry.Deletions > 0:
		return model.FileDeleted
	default:
		return model.FileModified
	}
}
