// SPDX-License-Identifier: MIT
// Package workcopy manages the ephemeral local clone used by a single sync
// or preview call. A WorkingCopy is owned by one goroutine and discarded
// when the call finishes.
package workcopy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/gitx"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
)

// ErrConflictDetected is returned by Pull when the rebase stopped on conflicts.
var ErrConflictDetected = errors.New("merge conflict detected")

// CloneError wraps a failed clone. URL is redacted.
type CloneError struct {
	URL string
	Err error
}

func (e *CloneError) Error() string {
	return remoteauth.Redact(fmt.Sprintf("clone %s: %v", e.URL, e.Err))
}
func (e *CloneError) Unwrap() error { return e.Err }

// FetchError wraps a failed fetch from a named remote.
type FetchError struct {
	Remote string
	Err    error
}

func (e *FetchError) Error() string {
	return remoteauth.Redact(fmt.Sprintf("fetch %s: %v", e.Remote, e.Err))
}
func (e *FetchError) Unwrap() error { return e.Err }

// Side selects which version of a conflicted file to keep.
type Side int

const (
	// Ours is the local side: the source branch that was cloned.
	Ours Side = iota
	// Theirs is the remote side being pulled in.
	Theirs
)

// CredentialMode selects how credentials reach git.
type CredentialMode string

const (
	// CredentialHelper passes credentials through an environment-backed
	// credential helper on each network command.
	CredentialHelper CredentialMode = "helper"
	// CredentialURL embeds credentials in remote URLs.
	CredentialURL CredentialMode = "url"
)

// OriginRemote is the remote name of the cloned source.
const OriginRemote = "origin"

// Options configures working copy creation.
type Options struct {
	// Root is the directory under which working copies are created.
	Root string
	// Prefix is prepended to the directory name, e.g. "preview-".
	Prefix string
	// CloneDepth limits clone history; 0 clones the full history.
	CloneDepth int
	// CredentialMode defaults to CredentialHelper.
	CredentialMode CredentialMode
	// AuthorName and AuthorEmail set the local commit identity.
	AuthorName  string
	AuthorEmail string
}

// WorkingCopy is one local clone rooted in a unique temporary directory.
type WorkingCopy struct {
	runner gitx.Runner
	opts   Options
	dir    string
	log    logrus.FieldLogger

	creds    map[string]model.Credential
	rebasing bool

	discardOnce sync.Once
	discardErr  error
}

// New allocates a working copy for repoID. Nothing touches disk until Clone.
func New(runner gitx.Runner, repoID string, opts Options, log logrus.FieldLogger) *WorkingCopy {
	if opts.CredentialMode == "" {
		opts.CredentialMode = CredentialHelper
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	name := opts.Prefix + repoID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	return &WorkingCopy{
		runner: runner,
		opts:   opts,
		dir:    filepath.Join(opts.Root, name),
		log:    log,
		creds:  map[string]model.Credential{},
	}
}

// Dir returns the working tree path.
func (w *WorkingCopy) Dir() string { return w.dir }

// Runner returns the git runner bound to this working copy.
func (w *WorkingCopy) Runner() gitx.Runner { return w.runner }

// Clone replaces any existing directory with a single-branch clone of url.
func (w *WorkingCopy) Clone(ctx context.Context, url string, cred model.Credential, branch string) error {
	if err := os.RemoveAll(w.dir); err != nil {
		return &CloneError{URL: remoteauth.Redact(url), Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(w.dir), 0o755); err != nil {
		return &CloneError{URL: remoteauth.Redact(url), Err: err}
	}
	args := []string{"clone", "--branch", branch, "--single-branch"}
	if w.opts.CloneDepth > 0 {
		args = append(args, "--depth", strconv.Itoa(w.opts.CloneDepth))
	}
	args = append(args, w.remoteURL(url, cred), w.dir)

	w.log.WithFields(logrus.Fields{"url": remoteauth.Redact(url), "branch": branch}).Debug("cloning")
	if _, err := w.network(ctx, "", cred, args...); err != nil {
		return &CloneError{URL: remoteauth.Redact(url), Err: err}
	}
	w.creds[OriginRemote] = cred
	w.rebasing = false
	return w.configureIdentity(ctx)
}

func (w *WorkingCopy) configureIdentity(ctx context.Context) error {
	if w.opts.AuthorName != "" {
		if _, err := w.runner.Run(ctx, w.dir, "config", "user.name", w.opts.AuthorName); err != nil {
			return fmt.Errorf("set user.name: %w", err)
		}
	}
	if w.opts.AuthorEmail != "" {
		if _, err := w.runner.Run(ctx, w.dir, "config", "user.email", w.opts.AuthorEmail); err != nil {
			return fmt.Errorf("set user.email: %w", err)
		}
	}
	return nil
}

// AddRemote (re)creates a named remote pointing at url.
func (w *WorkingCopy) AddRemote(ctx context.Context, name, url string, cred model.Credential) error {
	if _, err := w.runner.Run(ctx, w.dir, "remote", "remove", name); err != nil {
		w.log.WithField("remote", name).Debug("remote did not exist yet")
	}
	if _, err := w.runner.Run(ctx, w.dir, "remote", "add", name, w.remoteURL(url, cred)); err != nil {
		return fmt.Errorf("add remote %s: %w", name, err)
	}
	w.creds[name] = cred
	return nil
}

// Fetch downloads all branches and tags of remote.
func (w *WorkingCopy) Fetch(ctx context.Context, remote string) error {
	if _, err := w.network(ctx, w.dir, w.creds[remote], "fetch", "--tags", remote); err != nil {
		return &FetchError{Remote: remote, Err: err}
	}
	return nil
}

// BranchExists reports whether branch is known locally or, when remote is
// set, as a remote-tracking ref of that remote.
func (w *WorkingCopy) BranchExists(ctx context.Context, branch, remote string) bool {
	refs, err := gitx.Refs(ctx, w.runner, w.dir)
	if err != nil {
		w.log.WithError(err).Debug("listing refs failed")
		return false
	}
	for _, ref := range refs {
		if remote != "" {
			if ref == remote+"/"+branch {
				return true
			}
			continue
		}
		if ref == branch || ref == OriginRemote+"/"+branch {
			return true
		}
	}
	return false
}

// Push publishes branch to remote. Non-forced pushes set the upstream and
// are retried once without it when git finds no matching refs. A push
// rejected because the clone is shallow unshallows from origin and retries.
func (w *WorkingCopy) Push(ctx context.Context, remote, branch string, force bool) error {
	flag := "-u"
	if force {
		flag = "--force"
	}
	err := w.push(ctx, remote, flag, branch)
	if gitx.IsShallowUpdateRejected(err) {
		w.log.WithField("remote", remote).Info("shallow push rejected, fetching full history")
		if unshallowErr := w.Unshallow(ctx); unshallowErr != nil {
			return fmt.Errorf("push %s %s: %w", remote, branch, errors.Join(err, unshallowErr))
		}
		err = w.push(ctx, remote, flag, branch)
	}
	if !force && gitx.IsNoMatchingRefs(err) {
		w.log.WithField("remote", remote).Debug("retrying push without upstream tracking")
		err = w.push(ctx, remote, "", branch)
	}
	if err != nil {
		return fmt.Errorf("push %s %s: %w", remote, branch, err)
	}
	return nil
}

func (w *WorkingCopy) push(ctx context.Context, remote, flag, branch string) error {
	args := []string{"push"}
	if flag != "" {
		args = append(args, flag)
	}
	args = append(args, remote, branch)
	_, err := w.network(ctx, w.dir, w.creds[remote], args...)
	return err
}

// Unshallow converts a shallow clone into a complete one.
func (w *WorkingCopy) Unshallow(ctx context.Context) error {
	_, err := w.network(ctx, w.dir, w.creds[OriginRemote], "fetch", "--unshallow", OriginRemote)
	return err
}

// Pull checks out branch (creating it from remote when missing) and rebases
// it onto remote/branch. It returns ErrConflictDetected when the rebase
// stops on conflicts; the working copy is then mid-rebase.
func (w *WorkingCopy) Pull(ctx context.Context, remote, branch string) error {
	if _, err := w.runner.Run(ctx, w.dir, "checkout", branch); err != nil {
		if _, err := w.runner.Run(ctx, w.dir, "checkout", "-b", branch, remote+"/"+branch); err != nil {
			w.log.WithField("branch", branch).Debug("checkout failed, pulling onto current branch")
		}
	}
	out, err := w.network(ctx, w.dir, w.creds[remote], "pull", "--rebase", remote, branch)
	if err != nil {
		if gitx.IsMergeConflict(out) || gitx.IsMergeConflict(err.Error()) {
			w.rebasing = true
			return ErrConflictDetected
		}
		return fmt.Errorf("pull %s %s: %w", remote, branch, err)
	}
	return nil
}

// ListConflicts returns every unmerged path as an unresolved conflict.
func (w *WorkingCopy) ListConflicts(ctx context.Context) ([]model.SyncConflict, error) {
	files, err := gitx.ConflictedFiles(ctx, w.runner, w.dir)
	if err != nil {
		return nil, err
	}
	conflicts := make([]model.SyncConflict, 0, len(files))
	for _, file := range files {
		conflicts = append(conflicts, model.SyncConflict{
			File:        file,
			Description: "Conflict in file: " + file,
		})
	}
	return conflicts, nil
}

// ResolveConflict keeps one side of file and stages it. During a rebase git
// swaps the meaning of --ours and --theirs; side always refers to the local
// source branch as Ours.
func (w *WorkingCopy) ResolveConflict(ctx context.Context, file string, side Side) error {
	flag := "--ours"
	if (side == Ours) == w.rebasing {
		flag = "--theirs"
	}
	if _, err := w.runner.Run(ctx, w.dir, "checkout", flag, "--", file); err != nil {
		// The chosen side deleted the file.
		if _, rmErr := w.runner.Run(ctx, w.dir, "rm", "--quiet", "--", file); rmErr != nil {
			return fmt.Errorf("resolve %s: %w", file, errors.Join(err, rmErr))
		}
		return nil
	}
	if _, err := w.runner.Run(ctx, w.dir, "add", "--", file); err != nil {
		return fmt.Errorf("stage %s: %w", file, err)
	}
	return nil
}

// Rebasing reports whether a rebase is stopped on conflicts.
func (w *WorkingCopy) Rebasing() bool { return w.rebasing }

// ContinueRebase resumes a stopped rebase. It reports true when the next
// replayed commit stopped on new conflicts.
func (w *WorkingCopy) ContinueRebase(ctx context.Context) (bool, error) {
	if !w.rebasing {
		return false, nil
	}
	env := []string{"GIT_EDITOR=true"}
	out, err := w.runner.RunEnv(ctx, w.dir, env, "rebase", "--continue")
	if err != nil && isEmptyReplay(out, err) {
		out, err = w.runner.RunEnv(ctx, w.dir, env, "rebase", "--skip")
	}
	if err != nil {
		if gitx.IsMergeConflict(out) || gitx.IsMergeConflict(err.Error()) {
			return true, nil
		}
		return false, fmt.Errorf("rebase --continue: %w", err)
	}
	w.rebasing = false
	return false, nil
}

func isEmptyReplay(out string, err error) bool {
	msg := strings.ToLower(out + " " + err.Error())
	return strings.Contains(msg, "nothing to commit") || strings.Contains(msg, "no changes")
}

// Commit records a commit even when nothing is staged.
func (w *WorkingCopy) Commit(ctx context.Context, message string) error {
	if _, err := w.runner.Run(ctx, w.dir, "commit", "--allow-empty", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Discard removes the working tree. Failures are logged and returned; later
// calls return the first result.
func (w *WorkingCopy) Discard() error {
	w.discardOnce.Do(func() {
		w.discardErr = os.RemoveAll(w.dir)
		if w.discardErr != nil {
			w.log.WithError(w.discardErr).WithField("dir", w.dir).Warn("cleanup failed")
			return
		}
		w.log.WithField("dir", w.dir).Debug("working copy removed")
	})
	return w.discardErr
}

func (w *WorkingCopy) remoteURL(url string, cred model.Credential) string {
	if w.opts.CredentialMode == CredentialURL && hasSecret(cred) {
		return remoteauth.BuildAuthenticatedURL(url, cred.Username, cred.Token)
	}
	return url
}

// network runs a command that talks to a remote, injecting cred through the
// credential helper when that mode is active.
func (w *WorkingCopy) network(ctx context.Context, dir string, cred model.Credential, args ...string) (string, error) {
	env := []string{"GIT_TERMINAL_PROMPT=0"}
	if w.opts.CredentialMode == CredentialHelper && hasSecret(cred) {
		args = append(remoteauth.HelperArgs(), args...)
		env = remoteauth.HelperEnv(cred.Username, cred.Token)
	}
	return w.runner.RunEnv(ctx, dir, env, args...)
}

func hasSecret(cred model.Credential) bool {
	return cred.Username != "" || cred.Token != ""
}
