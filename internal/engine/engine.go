// SPDX-License-Identifier: MIT
// Package engine orchestrates one sync or preview of a repository pair:
// it clones the source, attaches the target, inspects the difference and
// applies the repository's conflict policy, once per branch pair.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/config"
	"github.com/skaphos/reposync/internal/conflict"
	"github.com/skaphos/reposync/internal/diffinspect"
	"github.com/skaphos/reposync/internal/gitx"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
	"github.com/skaphos/reposync/internal/workcopy"
)

const (
	// TargetRemote is the remote name under which the target is fetched.
	TargetRemote = "target"
	// SourceRemote is the remote used for the bidirectional back-push.
	SourceRemote = "source"

	previewPrefix = "preview-"
)

// Options configures an Engine.
type Options struct {
	TempDir             string
	CloneDepth          int
	CredentialMode      workcopy.CredentialMode
	AuthorName          string
	AuthorEmail         string
	Timeout             time.Duration
	PreviewCleanupDelay time.Duration
}

// OptionsFromConfig maps application config onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TempDir:             cfg.TempRoot(),
		CloneDepth:          cfg.EffectiveCloneDepth(),
		CredentialMode:      workcopy.CredentialMode(cfg.Git.CredentialMode),
		AuthorName:          cfg.Git.AuthorName,
		AuthorEmail:         cfg.Git.AuthorEmail,
		Timeout:             cfg.Timeout(),
		PreviewCleanupDelay: cfg.Sync.PreviewCleanupDelay,
	}
}

// Store is the configuration store the engine reads repositories and
// credentials from and records sync outcomes to.
type Store interface {
	Repository(ctx context.Context, id string) (model.Repository, error)
	Credential(ctx context.Context, id string) (model.Credential, error)
	RecordSync(ctx context.Context, id string, at time.Time, status model.RunStatus) error
}

// Request is one repository with its resolved, plaintext credentials.
// SourceCredential authenticates against Repository.SourceURL (system A)
// and TargetCredential against Repository.TargetURL (system B).
type Request struct {
	Repository       model.Repository
	SourceCredential model.Credential
	TargetCredential model.Credential
}

// Engine runs syncs and previews. It is safe for concurrent use; calls for
// the same repository id are serialized.
type Engine struct {
	runner    gitx.Runner
	store     Store
	opts      Options
	log       logrus.FieldLogger
	inspector *diffinspect.Inspector
	resolver  *conflict.Resolver
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	cleanup sync.WaitGroup
}

// New creates an Engine. store may be nil when only PerformSync and
// PreviewSync are used.
func New(runner gitx.Runner, store Store, opts Options, log logrus.FieldLogger) *Engine {
	if runner == nil {
		runner = &gitx.GitRunner{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{
		runner:    runner,
		store:     store,
		opts:      opts,
		log:       log,
		inspector: diffinspect.New(log),
		resolver:  conflict.New(log),
		now:       time.Now,
		locks:     map[string]chan struct{}{},
	}
}

// Wait blocks until every scheduled working copy cleanup has finished.
func (e *Engine) Wait() {
	e.cleanup.Wait()
}

// endpoints are the URLs and credentials of one sync direction.
type endpoints struct {
	sourceURL  string
	sourceCred model.Credential
	targetURL  string
	targetCred model.Credential
}

func resolveEndpoints(req Request) endpoints {
	repo := req.Repository
	if repo.SyncDirection == model.DirectionBToA {
		return endpoints{
			sourceURL:  repo.TargetURL,
			sourceCred: req.TargetCredential,
			targetURL:  repo.SourceURL,
			targetCred: req.SourceCredential,
		}
	}
	return endpoints{
		sourceURL:  repo.SourceURL,
		sourceCred: req.SourceCredential,
		targetURL:  repo.TargetURL,
		targetCred: req.TargetCredential,
	}
}

// PerformSync synchronizes every branch pair of the repository and returns
// the aggregate result. It never returns an error: every failure is
// reported through the result.
func (e *Engine) PerformSync(ctx context.Context, req Request) model.SyncResult {
	repo := req.Repository
	result := model.SyncResult{
		RepositoryID:  repo.ID,
		SyncDirection: repo.SyncDirection,
		Conflicts:     []model.SyncConflict{},
		Commits:       []model.Commit{},
		Timestamp:     e.now().UTC(),
	}
	log := e.log.WithFields(logrus.Fields{"repository": repo.ID, "direction": repo.SyncDirection, "policy": repo.ConflictPolicy})

	if err := repo.Validate(); err != nil {
		return failed(result, &SyncError{Kind: KindUnknown, Err: fmt.Errorf("invalid repository: %w", err)})
	}

	unlock, err := e.lock(ctx, repo.ID)
	if err != nil {
		return failed(result, classify(err))
	}
	defer unlock()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ends := resolveEndpoints(req)
	log.WithFields(logrus.Fields{
		"source": remoteauth.Redact(ends.sourceURL),
		"target": remoteauth.Redact(ends.targetURL),
		"pairs":  len(repo.BranchPairs),
	}).Info("sync started")

	result.Success = true
	for _, pair := range repo.BranchPairs {
		branch := e.syncPair(ctx, req, ends, pair.Name, log.WithField("branch", pair.Name))
		result.Branches = append(result.Branches, branch.BranchResult)
		if branch.Success {
			result.Changes = result.Changes.Add(branch.Changes)
			result.Commits = append(result.Commits, branch.commits...)
			continue
		}
		result.Success = false
		result.Error = branch.Error
		result.ErrorKind = branch.ErrorKind
		for _, c := range branch.Conflicts {
			if !c.Resolved {
				result.Conflicts = append(result.Conflicts, c)
			}
		}
	}

	entry := log.WithFields(logrus.Fields{
		"added":    result.Changes.Added,
		"modified": result.Changes.Modified,
		"deleted":  result.Changes.Deleted,
		"commits":  len(result.Commits),
	})
	if result.Success {
		entry.Info("sync completed")
	} else {
		entry.WithField("error", result.Error).Warn("sync failed")
	}
	return result
}

type pairResult struct {
	model.BranchResult
	commits []model.Commit
}

// syncPair runs the per-branch state machine on its own working copy.
func (e *Engine) syncPair(ctx context.Context, req Request, ends endpoints, branch string, log logrus.FieldLogger) pairResult {
	res := pairResult{BranchResult: model.BranchResult{Branch: branch}}
	wc := workcopy.New(e.runner, req.Repository.ID, e.workcopyOptions(""), log)
	defer e.discardAsync(wc)

	targetExists, err := e.prepare(ctx, wc, ends, branch)
	if err != nil {
		return res.fail(classify(err))
	}

	diff, err := e.inspector.Diff(ctx, wc, TargetRemote+"/"+branch, branch)
	if err != nil {
		log.WithError(err).Warn("could not compute diff, continuing with sync")
	}

	outcome, err := e.resolver.Apply(ctx, wc, req.Repository.ConflictPolicy, TargetRemote, branch, targetExists)
	res.Conflicts = outcome.Resolved
	if err != nil {
		return res.fail(classify(err))
	}

	if req.Repository.SyncDirection == model.DirectionBidirectional {
		e.pushBack(ctx, wc, ends, branch, log)
	}

	res.Success = true
	res.Changes = diff.Summary()
	res.Commits = len(diff.Commits)
	res.commits = diff.Commits
	return res
}

func (r pairResult) fail(err *SyncError) pairResult {
	r.Success = false
	r.Error = err.Error()
	r.ErrorKind = string(err.Kind)
	if len(err.Conflicts) > 0 {
		r.Conflicts = append(r.Conflicts, err.Conflicts...)
	}
	return r
}

// prepare clones the source branch, attaches and fetches the target and
// reports whether the target branch already exists.
func (e *Engine) prepare(ctx context.Context, wc *workcopy.WorkingCopy, ends endpoints, branch string) (bool, error) {
	if err := wc.Clone(ctx, ends.sourceURL, ends.sourceCred, branch); err != nil {
		return false, err
	}
	if err := wc.AddRemote(ctx, TargetRemote, ends.targetURL, ends.targetCred); err != nil {
		return false, err
	}
	if err := wc.Fetch(ctx, TargetRemote); err != nil {
		return false, err
	}
	return wc.BranchExists(ctx, branch, TargetRemote), nil
}

// pushBack publishes the local branch to the source remote. Failures are
// logged only.
func (e *Engine) pushBack(ctx context.Context, wc *workcopy.WorkingCopy, ends endpoints, branch string, log logrus.FieldLogger) {
	if err := wc.AddRemote(ctx, SourceRemote, ends.sourceURL, ends.sourceCred); err != nil {
		log.WithError(err).Info("back-push skipped")
		return
	}
	if err := wc.Push(ctx, SourceRemote, branch, false); err != nil {
		log.WithError(err).Info("no changes pushed back to source")
	}
}

// PreviewSync computes, per branch pair, what a sync would bring into the
// target. Neither remote is modified.
func (e *Engine) PreviewSync(ctx context.Context, req Request) ([]model.SyncDiff, error) {
	repo := req.Repository
	if err := repo.Validate(); err != nil {
		return nil, &SyncError{Kind: KindUnknown, Err: fmt.Errorf("invalid repository: %w", err)}
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	ends := resolveEndpoints(req)
	log := e.log.WithField("repository", repo.ID)
	diffs := make([]model.SyncDiff, 0, len(repo.BranchPairs))
	for _, pair := range repo.BranchPairs {
		diff, err := e.previewPair(ctx, req, ends, pair.Name)
		if err != nil {
			log.WithField("branch", pair.Name).WithError(err).Warn("preview failed")
			return nil, classify(err)
		}
		diffs = append(diffs, diff)
	}
	log.WithField("pairs", len(diffs)).Info("preview completed")
	return diffs, nil
}

func (e *Engine) previewPair(ctx context.Context, req Request, ends endpoints, branch string) (model.SyncDiff, error) {
	wc := workcopy.New(e.runner, req.Repository.ID, e.workcopyOptions(previewPrefix), e.log.WithField("branch", branch))
	defer e.discardAfter(wc, e.opts.PreviewCleanupDelay)

	if _, err := e.prepare(ctx, wc, ends, branch); err != nil {
		return model.SyncDiff{}, err
	}
	diff, err := e.inspector.Diff(ctx, wc, TargetRemote+"/"+branch, branch)
	if err != nil {
		return model.SyncDiff{}, err
	}
	diff.Branch = branch
	return diff, nil
}

// SyncRepository loads a repository and its credentials from the store,
// marks it in progress, syncs it and records the outcome. The error is
// non-nil only when the repository could not be loaded.
func (e *Engine) SyncRepository(ctx context.Context, id string) (model.SyncResult, error) {
	req, err := e.LoadRequest(ctx, id)
	if err != nil {
		return model.SyncResult{}, err
	}
	return e.SyncRequest(ctx, req), nil
}

// SyncRequest syncs an already loaded request and records the outcome
// against its repository id, like SyncRepository. Callers that inspected
// req before syncing get exactly the configuration they saw.
func (e *Engine) SyncRequest(ctx context.Context, req Request) model.SyncResult {
	id := req.Repository.ID
	if e.store != nil {
		if err := e.store.RecordSync(ctx, id, e.now(), model.StatusInProgress); err != nil {
			e.log.WithError(err).WithField("repository", id).Warn("could not mark sync in progress")
		}
	}
	result := e.PerformSync(ctx, req)
	if e.store != nil {
		// The sync context may have expired; the outcome is still recorded.
		if err := e.store.RecordSync(context.WithoutCancel(ctx), id, result.Timestamp, result.Status()); err != nil {
			e.log.WithError(err).WithField("repository", id).Warn("could not record sync result")
		}
	}
	return result
}

// LoadRequest resolves a repository id into a Request with decrypted
// credentials. Empty credential ids resolve to anonymous access.
func (e *Engine) LoadRequest(ctx context.Context, id string) (Request, error) {
	if e.store == nil {
		return Request{}, errors.New("engine has no store")
	}
	repo, err := e.store.Repository(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if gitx.SameRemote(repo.SourceURL, repo.TargetURL) {
		return Request{}, fmt.Errorf("repository %s: source and target are the same remote %s", id, remoteauth.Redact(repo.TargetURL))
	}
	req := Request{Repository: repo}
	if repo.SourceCredentialID != "" {
		if req.SourceCredential, err = e.store.Credential(ctx, repo.SourceCredentialID); err != nil {
			return Request{}, fmt.Errorf("source credential: %w", err)
		}
	}
	if repo.TargetCredentialID != "" {
		if req.TargetCredential, err = e.store.Credential(ctx, repo.TargetCredentialID); err != nil {
			return Request{}, fmt.Errorf("target credential: %w", err)
		}
	}
	return req, nil
}

func (e *Engine) workcopyOptions(prefix string) workcopy.Options {
	return workcopy.Options{
		Root:           e.opts.TempDir,
		Prefix:         prefix,
		CloneDepth:     e.opts.CloneDepth,
		CredentialMode: e.opts.CredentialMode,
		AuthorName:     e.opts.AuthorName,
		AuthorEmail:    e.opts.AuthorEmail,
	}
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout > 0 {
		return context.WithTimeout(ctx, e.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// lock serializes calls for one repository id. Waiting ends early when ctx
// is done.
func (e *Engine) lock(ctx context.Context, id string) (func(), error) {
	e.locksMu.Lock()
	ch, ok := e.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		e.locks[id] = ch
	}
	e.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for running sync of %s: %w", id, ctx.Err())
	}
}

func (e *Engine) discardAsync(wc *workcopy.WorkingCopy) {
	e.cleanup.Add(1)
	go func() {
		defer e.cleanup.Done()
		_ = wc.Discard()
	}()
}

func (e *Engine) discardAfter(wc *workcopy.WorkingCopy, delay time.Duration) {
	e.cleanup.Add(1)
	time.AfterFunc(delay, func() {
		defer e.cleanup.Done()
		_ = wc.Discard()
	})
}

func failed(result model.SyncResult, err *SyncError) model.SyncResult {
	result.Success = false
	result.Error = err.Error()
	result.ErrorKind = string(err.Kind)
	return result
}
