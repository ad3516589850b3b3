// SPDX-License-Identifier: MIT
// Package gitx provides helpers for executing git commands and parsing
// their output. It shells out to the installed git binary.
package gitx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
)

// Runner executes git commands in a given repo directory.
// This interface allows mocking in tests.
type Runner interface {
	// Run executes a git command in the given directory and returns
	// combined stdout/stderr output.
	Run(ctx context.Context, dir string, args ...string) (string, error)
	// RunEnv is Run with extra environment entries for this invocation only.
	RunEnv(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// GitRunner is the default Runner implementation that shells out to git.
type GitRunner struct {
	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
	// Env is appended to the process environment for every command.
	Env []string
}

// Run executes a git command.
func (g *GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	return g.RunEnv(ctx, dir, nil, args...)
}

// RunEnv executes a git command with additional environment entries.
func (g *GitRunner) RunEnv(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(append(os.Environ(), g.Env...), env...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return text, &CommandError{
			Args:   remoteauth.RedactArgs(args),
			Output: remoteauth.Redact(text),
			Err:    err,
		}
	}
	return text, nil
}

// CommandError is a failed git invocation. Args and Output are redacted.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	cmd := "git " + strings.Join(visibleArgs(e.Args), " ")
	if e.Output != "" {
		return fmt.Sprintf("%s: %s", cmd, e.Output)
	}
	return fmt.Sprintf("%s: %v", cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// visibleArgs drops "-c key=value" pairs so helper scripts stay out of messages.
func visibleArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// Refs lists local branches and remote-tracking refs by short name.
func Refs(ctx context.Context, r Runner, dir string) ([]string, error) {
	out, err := r.Run(ctx, dir, "for-each-ref", "--format=%(refname:short)", "refs/heads", "refs/remotes")
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref: %w", err)
	}
	return ParseRefList(out), nil
}

// DiffNumstat returns per-file line counts between base and head. It tries
// the merge-base form (base...head) first and falls back to a direct
// comparison (base..head) for histories without a common ancestor.
func DiffNumstat(ctx context.Context, r Runner, dir, base, head string) ([]NumstatEntry, error) {
	out, err := r.Run(ctx, dir, "diff", "--numstat", "--no-renames", base+"..."+head)
	if err != nil {
		var fallbackErr error
		out, fallbackErr = r.Run(ctx, dir, "diff", "--numstat", "--no-renames", base+".."+head)
		if fallbackErr != nil {
			return nil, fmt.Errorf("git diff: %w", fallbackErr)
		}
	}
	return ParseNumstat(out), nil
}

// DiffNameStatus returns the status letter for each path between base and head.
func DiffNameStatus(ctx context.Context, r Runner, dir, base, head string) (map[string]string, error) {
	out, err := r.Run(ctx, dir, "diff", "--name-status", "--no-renames", base+"..."+head)
	if err != nil {
		var fallbackErr error
		out, fallbackErr = r.Run(ctx, dir, "diff", "--name-status", "--no-renames", base+".."+head)
		if fallbackErr != nil {
			return nil, fmt.Errorf("git diff: %w", fallbackErr)
		}
	}
	return ParseNameStatus(out), nil
}

// Log returns the commits reachable from head but not from base, newest first.
func Log(ctx context.Context, r Runner, dir, base, head string) ([]model.Commit, error) {
	out, err := r.Run(ctx, dir, "log", "--format="+LogFormat, base+".."+head)
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	return ParseLog(out), nil
}

// ConflictedFiles lists paths left unmerged in the working tree.
func ConflictedFiles(ctx context.Context, r Runner, dir string) ([]string, error) {
	out, err := r.Run(ctx, dir, "status", "--porcelain=v1")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}
	return ParseConflictedPaths(out), nil
}
