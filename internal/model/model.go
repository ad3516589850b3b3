// SPDX-License-Identifier: MIT
// Package model defines the core data types used throughout RepoSync.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// CredentialKind identifies which hosting system a credential belongs to.
type CredentialKind string

const (
	// KindSystemA is the credential kind for the "A" side (historically TFS).
	KindSystemA CredentialKind = "source-system-a"
	// KindSystemB is the credential kind for the "B" side (historically GitHub).
	KindSystemB CredentialKind = "source-system-b"
)

// Credential is a username/token pair for one hosting system.
type Credential struct {
	// ID is the stable credential identifier referenced by repositories.
	ID string `json:"id" yaml:"id"`
	// Name is a human-friendly label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Kind is the hosting system the credential authenticates against.
	Kind CredentialKind `json:"kind" yaml:"kind"`
	// Username is the account name embedded in authenticated requests.
	Username string `json:"username" yaml:"username"`
	// Token is the secret; it may be stored encrypted at rest.
	Token string `json:"-" yaml:"token"`
	// URL is an optional base URL for the hosting system.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// BranchPair names a branch that exists under the same name on both remotes.
type BranchPair struct {
	Name string `json:"name" yaml:"name"`
}

// SyncDirection selects which remote is the authoritative source.
type SyncDirection string

const (
	DirectionAToB          SyncDirection = "a-to-b"
	DirectionBToA          SyncDirection = "b-to-a"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ConflictPolicy selects how divergent changes are handled.
type ConflictPolicy string

const (
	PolicyAutoResolve  ConflictPolicy = "auto-resolve"
	PolicyManual       ConflictPolicy = "manual"
	PolicyPreferSource ConflictPolicy = "prefer-source"
	PolicyPreferTarget ConflictPolicy = "prefer-target"
)

// RunStatus is the persisted outcome of a sync or job run.
type RunStatus string

const (
	StatusSuccess    RunStatus = "success"
	StatusFailed     RunStatus = "failed"
	StatusInProgress RunStatus = "in-progress"
)

// Repository is the configuration for one pair of mirrored remotes.
type Repository struct {
	ID                 string         `json:"id" yaml:"id"`
	ProjectID          string         `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Name               string         `json:"name" yaml:"name"`
	SourceURL          string         `json:"source_url" yaml:"source_url"`
	TargetURL          string         `json:"target_url" yaml:"target_url"`
	SourceCredentialID string         `json:"source_credential_id" yaml:"source_credential_id"`
	TargetCredentialID string         `json:"target_credential_id" yaml:"target_credential_id"`
	BranchPairs        []BranchPair   `json:"branch_pairs" yaml:"branch_pairs"`
	SyncDirection      SyncDirection  `json:"sync_direction" yaml:"sync_direction"`
	ConflictPolicy     ConflictPolicy `json:"conflict_policy" yaml:"conflict_policy"`
	// IgnoreRules are gitignore-style patterns carried for the management UI.
	IgnoreRules    []string   `json:"ignore_rules,omitempty" yaml:"ignore_rules,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty" yaml:"last_sync_at,omitempty"`
	LastSyncStatus RunStatus  `json:"last_sync_status,omitempty" yaml:"last_sync_status,omitempty"`
}

// Validate reports every problem that would make a sync of r fail up front.
func (r Repository) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, errors.New("repository id is required"))
	}
	if strings.TrimSpace(r.SourceURL) == "" {
		errs = append(errs, errors.New("source url is required"))
	}
	if strings.TrimSpace(r.TargetURL) == "" {
		errs = append(errs, errors.New("target url is required"))
	}
	if len(r.BranchPairs) == 0 {
		errs = append(errs, errors.New("at least one branch pair is required"))
	}
	for i, pair := range r.BranchPairs {
		if strings.TrimSpace(pair.Name) == "" {
			errs = append(errs, fmt.Errorf("branch pair %d has an empty name", i))
		}
	}
	switch r.SyncDirection {
	case DirectionAToB, DirectionBToA, DirectionBidirectional:
	default:
		errs = append(errs, fmt.Errorf("unsupported sync direction %q", r.SyncDirection))
	}
	switch r.ConflictPolicy {
	case PolicyAutoResolve, PolicyManual, PolicyPreferSource, PolicyPreferTarget:
	default:
		errs = append(errs, fmt.Errorf("unsupported conflict policy %q", r.ConflictPolicy))
	}
	for _, rule := range r.IgnoreRules {
		if !doublestar.ValidatePattern(strings.TrimPrefix(rule, "!")) {
			errs = append(errs, fmt.Errorf("invalid ignore rule %q", rule))
		}
	}
	return errors.Join(errs...)
}

// FileStatus is the change classification of a file in a diff.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileDeleted  FileStatus = "deleted"
	FileRenamed  FileStatus = "renamed"
)

// FileChange is one path in a SyncDiff.
type FileChange struct {
	Path      string     `json:"path" yaml:"path"`
	Status    FileStatus `json:"status" yaml:"status"`
	Additions int        `json:"additions" yaml:"additions"`
	Deletions int        `json:"deletions" yaml:"deletions"`
	Binary    bool       `json:"binary,omitempty" yaml:"binary,omitempty"`
}

// Commit is a commit that the target would receive.
type Commit struct {
	Hash    string    `json:"hash" yaml:"hash"`
	Message string    `json:"message" yaml:"message"`
	Author  string    `json:"author" yaml:"author"`
	Date    time.Time `json:"date" yaml:"date"`
}

// SyncDiff is a read-only snapshot of differences for one branch pair.
type SyncDiff struct {
	Branch  string       `json:"branch,omitempty" yaml:"branch,omitempty"`
	Files   []FileChange `json:"files" yaml:"files"`
	Commits []Commit     `json:"commits" yaml:"commits"`
}

// Summary counts files per status.
func (d SyncDiff) Summary() ChangeSummary {
	var s ChangeSummary
	for _, f := range d.Files {
		switch f.Status {
		case FileAdded:
			s.Added++
		case FileDeleted:
			s.Deleted++
		default:
			s.Modified++
		}
	}
	return s
}

// ChangeSummary aggregates file change counts.
type ChangeSummary struct {
	Added    int `json:"added" yaml:"added"`
	Modified int `json:"modified" yaml:"modified"`
	Deleted  int `json:"deleted" yaml:"deleted"`
}

// Add returns the elementwise sum of s and o.
func (s ChangeSummary) Add(o ChangeSummary) ChangeSummary {
	return ChangeSummary{
		Added:    s.Added + o.Added,
		Modified: s.Modified + o.Modified,
		Deleted:  s.Deleted + o.Deleted,
	}
}

// SyncConflict is a file left with overlapping changes by a pull.
type SyncConflict struct {
	File        string `json:"file" yaml:"file"`
	Description string `json:"description" yaml:"description"`
	Resolved    bool   `json:"resolved" yaml:"resolved"`
}

// BranchResult is the outcome for a single branch pair.
type BranchResult struct {
	Branch    string         `json:"branch" yaml:"branch"`
	Success   bool           `json:"success" yaml:"success"`
	Changes   ChangeSummary  `json:"changes" yaml:"changes"`
	Commits   int            `json:"commits" yaml:"commits"`
	Conflicts []SyncConflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// SyncResult is the aggregate outcome of one sync call across all branch
// pairs. Changes are summed and Commits/Conflicts concatenated in pair order.
// Error carries the message of the last failing pair; every pair's own
// error is kept in Branches.
type SyncResult struct {
	RepositoryID  string         `json:"repository_id" yaml:"repository_id"`
	SyncDirection SyncDirection  `json:"sync_direction" yaml:"sync_direction"`
	Success       bool           `json:"success" yaml:"success"`
	Changes       ChangeSummary  `json:"changes" yaml:"changes"`
	Commits       []Commit       `json:"commits,omitempty" yaml:"commits,omitempty"`
	Conflicts     []SyncConflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Error         string         `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Branches      []BranchResult `json:"branches,omitempty" yaml:"branches,omitempty"`
	Timestamp     time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Status maps the result onto the persisted run status.
func (r SyncResult) Status() RunStatus {
	if r.Success {
		return StatusSuccess
	}
	return StatusFailed
}

// ScheduledJob runs a sync for a list of repositories on a cron schedule.
type ScheduledJob struct {
	ID             string     `json:"id" yaml:"id"`
	Name           string     `json:"name" yaml:"name"`
	Description    string     `json:"description,omitempty" yaml:"description,omitempty"`
	CronExpression string     `json:"cron_expression" yaml:"cron_expression"`
	RepositoryIDs  []string   `json:"repository_ids" yaml:"repository_ids"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty" yaml:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	LastRunStatus  RunStatus  `json:"last_run_status,omitempty" yaml:"last_run_status,omitempty"`
	RunCount       int        `json:"run_count" yaml:"run_count"`
}

// RepositoryRun is one repository's outcome within a job run.
type RepositoryRun struct {
	RepositoryID string `json:"repository_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// JobRun summarizes one firing of a scheduled job.
type JobRun struct {
	JobID      string          `json:"job_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	NextRunAt  time.Time       `json:"next_run_at"`
	Results    []RepositoryRun `json:"results"`
}

// Status is success only when every repository succeeded.
func (r JobRun) Status() RunStatus {
	for _, res := range r.Results {
		if !res.Success {
			return StatusFailed
		}
	}
	return StatusSuccess
}

// Failed counts repositories that did not sync.
func (r JobRun) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Success {
			n++
		}
	}
	return n
}
