// SPDX-License-Identifier: MIT
// Package conflict applies a repository's conflict policy to a prepared
// working copy and publishes the result to the target remote.
package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/workcopy"
)

// maxRounds bounds how many replayed commits may stop on conflicts during
// one auto-resolved rebase.
const maxRounds = 100

// Workspace is the subset of a working copy the resolver drives.
type Workspace interface {
	Pull(ctx context.Context, remote, branch string) error
	Push(ctx context.Context, remote, branch string, force bool) error
	ListConflicts(ctx context.Context) ([]model.SyncConflict, error)
	ResolveConflict(ctx context.Context, file string, side workcopy.Side) error
	ContinueRebase(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string) error
}

// UnresolvedError reports conflicts a policy refused to resolve.
type UnresolvedError struct {
	Policy    model.ConflictPolicy
	Conflicts []model.SyncConflict
}

func (e *UnresolvedError) Error() string {
	if e.Policy == model.PolicyManual {
		return fmt.Sprintf("conflicts detected in %d files: manual resolution required", len(e.Conflicts))
	}
	return fmt.Sprintf("conflicts detected in %d files: please resolve manually", len(e.Conflicts))
}

// Outcome describes what Apply did.
type Outcome struct {
	Pulled bool
	Pushed bool
	Forced bool
	// Resolved lists conflicts settled in favour of the source side.
	Resolved []model.SyncConflict
}

// Resolver applies conflict policies.
type Resolver struct {
	log logrus.FieldLogger
}

// New returns a Resolver that logs to log.
func New(log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{log: log}
}

// Apply brings remote/branch up to date with the local source branch
// according to policy. targetExists reports whether the target branch was
// found after fetching. Unresolved conflicts are returned as *UnresolvedError
// and nothing is pushed.
func (r *Resolver) Apply(ctx context.Context, ws Workspace, policy model.ConflictPolicy, remote, branch string, targetExists bool) (Outcome, error) {
	log := r.log.WithFields(logrus.Fields{"policy": policy, "remote": remote, "branch": branch})

	if policy == model.PolicyPreferSource {
		log.Debug("force pushing source state")
		if err := ws.Push(ctx, remote, branch, true); err != nil {
			return Outcome{}, err
		}
		return Outcome{Pushed: true, Forced: true}, nil
	}

	if !targetExists {
		log.Info("target branch missing, creating it")
		if err := ws.Push(ctx, remote, branch, false); err != nil {
			return Outcome{}, err
		}
		return Outcome{Pushed: true}, nil
	}

	var outcome Outcome
	switch policy {
	case model.PolicyAutoResolve:
		resolved, err := r.pullResolving(ctx, ws, remote, branch)
		if err != nil {
			return Outcome{}, err
		}
		outcome.Resolved = resolved
	case model.PolicyManual, model.PolicyPreferTarget:
		err := ws.Pull(ctx, remote, branch)
		if errors.Is(err, workcopy.ErrConflictDetected) {
			conflicts, listErr := ws.ListConflicts(ctx)
			if listErr != nil {
				return Outcome{}, listErr
			}
			log.WithField("conflicts", len(conflicts)).Warn("conflicts left for manual resolution")
			return Outcome{Pulled: true}, &UnresolvedError{Policy: policy, Conflicts: conflicts}
		}
		if err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, fmt.Errorf("unsupported conflict policy %q", policy)
	}
	outcome.Pulled = true

	if err := ws.Push(ctx, remote, branch, false); err != nil {
		return outcome, err
	}
	outcome.Pushed = true
	return outcome, nil
}

// pullResolving pulls and settles every conflict with the source side,
// continuing the rebase until it completes, then records a marker commit.
func (r *Resolver) pullResolving(ctx context.Context, ws Workspace, remote, branch string) ([]model.SyncConflict, error) {
	err := ws.Pull(ctx, remote, branch)
	if !errors.Is(err, workcopy.ErrConflictDetected) {
		return nil, err
	}

	var resolved []model.SyncConflict
	for round := 0; ; round++ {
		if round == maxRounds {
			return nil, fmt.Errorf("rebase still conflicted after %d rounds", maxRounds)
		}
		conflicts, err := ws.ListConflicts(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range conflicts {
			if err := ws.ResolveConflict(ctx, c.File, workcopy.Ours); err != nil {
				return nil, err
			}
			c.Resolved = true
			resolved = append(resolved, c)
		}
		again, err := ws.ContinueRebase(ctx)
		if err != nil {
			return nil, err
		}
		if !again {
			break
		}
	}

	r.log.WithField("files", len(resolved)).Info("auto-resolved conflicts with source side")
	if err := ws.Commit(ctx, fmt.Sprintf("Auto-resolved conflicts: %d files", len(resolved))); err != nil {
		return nil, err
	}
	return resolved, nil
}
