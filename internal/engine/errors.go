// SPDX-License-Identifier: MIT
package engine

import (
	"errors"

	"github.com/skaphos/reposync/internal/conflict"
	"github.com/skaphos/reposync/internal/gitx"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/remoteauth"
	"github.com/skaphos/reposync/internal/workcopy"
)

// Kind classifies a sync failure.
type Kind string

const (
	KindAuth                Kind = "auth"
	KindClone               Kind = "clone"
	KindFetch               Kind = "fetch"
	KindConflictsUnresolved Kind = "conflicts_unresolved"
	KindUnknown             Kind = "unknown"
)

var (
	ErrAuth                = errors.New("authentication failed")
	ErrClone               = errors.New("clone failed")
	ErrFetch               = errors.New("fetch failed")
	ErrConflictsUnresolved = errors.New("conflicts unresolved")
	ErrUnknown             = errors.New("sync failed")
)

// SyncError is the classified form of any failure inside a sync or preview.
// It matches its kind's sentinel and the underlying cause with errors.Is.
type SyncError struct {
	Kind      Kind
	Err       error
	Conflicts []model.SyncConflict
}

// Error returns the underlying message with credentials redacted.
func (e *SyncError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return remoteauth.Redact(e.Err.Error())
}

func (e *SyncError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *SyncError) sentinel() error {
	switch e.Kind {
	case KindAuth:
		return ErrAuth
	case KindClone:
		return ErrClone
	case KindFetch:
		return ErrFetch
	case KindConflictsUnresolved:
		return ErrConflictsUnresolved
	default:
		return ErrUnknown
	}
}

// classify wraps err in a SyncError. Authentication problems win over the
// step that surfaced them; git cannot tell them apart from network failures
// reliably, so the raw message is kept.
func classify(err error) *SyncError {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr
	}
	var unresolved *conflict.UnresolvedError
	if errors.As(err, &unresolved) {
		return &SyncError{Kind: KindConflictsUnresolved, Err: err, Conflicts: unresolved.Conflicts}
	}
	if gitx.ClassifyError(err) == gitx.ClassAuth {
		return &SyncError{Kind: KindAuth, Err: err}
	}
	var cloneErr *workcopy.CloneError
	if errors.As(err, &cloneErr) {
		return &SyncError{Kind: KindClone, Err: err}
	}
	var fetchErr *workcopy.FetchError
	if errors.As(err, &fetchErr) {
		return &SyncError{Kind: KindFetch, Err: err}
	}
	return &SyncError{Kind: KindUnknown, Err: err}
}
