// SPDX-License-Identifier: MIT
// Package store persists credentials, repositories and scheduled jobs in a
// single YAML file. Every write is a targeted read-modify-write of one
// record under a process-wide lock, replacing the file atomically.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/secrets"
)

// DefaultCronExpression is applied to jobs stored without a schedule.
const DefaultCronExpression = "0 0 * * *"

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("not found")

// Project groups repositories for display.
type Project struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Document is the full contents of the store file.
type Document struct {
	UpdatedAt     time.Time            `yaml:"updated_at,omitempty"`
	Projects      []Project            `yaml:"projects,omitempty"`
	Credentials   []model.Credential   `yaml:"credentials"`
	Repositories  []model.Repository   `yaml:"repositories"`
	ScheduledJobs []model.ScheduledJob `yaml:"scheduled_jobs"`
}

// jobRecord accepts the older single-repository and "schedule" job fields.
type jobRecord struct {
	model.ScheduledJob `yaml:",inline"`
	RepositoryID       string `yaml:"repository_id,omitempty"`
	Schedule           string `yaml:"schedule,omitempty"`
}

type fileDocument struct {
	UpdatedAt     time.Time          `yaml:"updated_at,omitempty"`
	Projects      []Project          `yaml:"projects,omitempty"`
	Credentials   []model.Credential `yaml:"credentials"`
	Repositories  []model.Repository `yaml:"repositories"`
	ScheduledJobs []jobRecord        `yaml:"scheduled_jobs"`
}

// JobRunUpdate is what the scheduler records after a job fires.
type JobRunUpdate struct {
	LastRunAt time.Time
	NextRunAt time.Time
	Status    model.RunStatus
}

// Store is the YAML-backed configuration store.
type Store struct {
	path string
	box  *secrets.Box
	log  logrus.FieldLogger

	mu sync.Mutex
}

// Open returns a Store for path, creating an empty file when none exists
// and persisting any legacy-field migration. box decrypts credential
// tokens and may be nil when no token is encrypted.
func Open(path string, box *secrets.Box, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{path: path, box: box, log: log}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, migrated, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		return s, s.write(&Document{})
	}
	if err != nil {
		return nil, err
	}
	if migrated {
		s.log.WithField("path", path).Info("migrated legacy scheduled job fields")
		if err := s.write(doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// Load returns a snapshot of the whole document. Tokens are as stored.
func (s *Store) Load(context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _, err := s.read()
	return doc, err
}

// Repositories returns every repository.
func (s *Store) Repositories(ctx context.Context) ([]model.Repository, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Repositories, nil
}

// Repository returns one repository by id.
func (s *Store) Repository(ctx context.Context, id string) (model.Repository, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return model.Repository{}, err
	}
	for _, repo := range doc.Repositories {
		if repo.ID == id {
			return repo, nil
		}
	}
	return model.Repository{}, fmt.Errorf("repository %q: %w", id, ErrNotFound)
}

// Credential returns one credential by id with its token decrypted.
func (s *Store) Credential(ctx context.Context, id string) (model.Credential, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return model.Credential{}, err
	}
	for _, cred := range doc.Credentials {
		if cred.ID != id {
			continue
		}
		token, err := s.box.Decrypt(cred.Token)
		if err != nil {
			return model.Credential{}, fmt.Errorf("credential %q: %w", id, err)
		}
		cred.Token = token
		return cred, nil
	}
	return model.Credential{}, fmt.Errorf("credential %q: %w", id, ErrNotFound)
}

// Jobs returns every scheduled job.
func (s *Store) Jobs(ctx context.Context) ([]model.ScheduledJob, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.ScheduledJobs, nil
}

// Job returns one scheduled job by id.
func (s *Store) Job(ctx context.Context, id string) (model.ScheduledJob, error) {
	jobs, err := s.Jobs(ctx)
	if err != nil {
		return model.ScheduledJob{}, err
	}
	for _, job := range jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return model.ScheduledJob{}, fmt.Errorf("job %q: %w", id, ErrNotFound)
}

// RecordSync stores the outcome of a repository sync.
func (s *Store) RecordSync(_ context.Context, id string, at time.Time, status model.RunStatus) error {
	return s.updateRepository(id, func(repo *model.Repository) {
		at := at.UTC()
		repo.LastSyncAt = &at
		repo.LastSyncStatus = status
	})
}

// RecordJobRun stores the outcome of a job firing and increments its run count.
func (s *Store) RecordJobRun(_ context.Context, id string, update JobRunUpdate) error {
	return s.updateJob(id, func(job *model.ScheduledJob) {
		last := update.LastRunAt.UTC()
		job.LastRunAt = &last
		if !update.NextRunAt.IsZero() {
			next := update.NextRunAt.UTC()
			job.NextRunAt = &next
		}
		job.LastRunStatus = update.Status
		job.RunCount++
	})
}

// SetJobNextRun stores when a job will next fire.
func (s *Store) SetJobNextRun(_ context.Context, id string, next time.Time) error {
	return s.updateJob(id, func(job *model.ScheduledJob) {
		next := next.UTC()
		job.NextRunAt = &next
	})
}

// SetJobStatus stores a job's last run status without counting a run.
func (s *Store) SetJobStatus(_ context.Context, id string, status model.RunStatus) error {
	return s.updateJob(id, func(job *model.ScheduledJob) {
		job.LastRunStatus = status
	})
}

// EncryptTokens seals every plaintext credential token with box and
// returns how many were changed.
func (s *Store) EncryptTokens(_ context.Context, box *secrets.Box) (int, error) {
	changed := 0
	err := s.update(func(doc *Document) error {
		for i := range doc.Credentials {
			token := doc.Credentials[i].Token
			if token == "" || secrets.IsEncrypted(token) {
				continue
			}
			sealed, err := box.Encrypt(token)
			if err != nil {
				return fmt.Errorf("credential %q: %w", doc.Credentials[i].ID, err)
			}
			doc.Credentials[i].Token = sealed
			changed++
		}
		return nil
	})
	return changed, err
}

func (s *Store) updateRepository(id string, fn func(*model.Repository)) error {
	return s.update(func(doc *Document) error {
		for i := range doc.Repositories {
			if doc.Repositories[i].ID == id {
				fn(&doc.Repositories[i])
				return nil
			}
		}
		return fmt.Errorf("repository %q: %w", id, ErrNotFound)
	})
}

func (s *Store) updateJob(id string, fn func(*model.ScheduledJob)) error {
	return s.update(func(doc *Document) error {
		for i := range doc.ScheduledJobs {
			if doc.ScheduledJobs[i].ID == id {
				fn(&doc.ScheduledJobs[i])
				return nil
			}
		}
		return fmt.Errorf("job %q: %w", id, ErrNotFound)
	})
}

// update reloads the file, applies fn and writes the result.
func (s *Store) update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}

func (s *Store) read() (*Document, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false, err
	}
	var raw fileDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse store %s: %w", s.path, err)
	}
	doc := &Document{
		UpdatedAt:    raw.UpdatedAt,
		Projects:     raw.Projects,
		Credentials:  raw.Credentials,
		Repositories: raw.Repositories,
	}
	migrated := false
	for _, rec := range raw.ScheduledJobs {
		job, changed := migrateJob(rec)
		migrated = migrated || changed
		doc.ScheduledJobs = append(doc.ScheduledJobs, job)
	}
	return doc, migrated, nil
}

func migrateJob(rec jobRecord) (model.ScheduledJob, bool) {
	job := rec.ScheduledJob
	changed := false
	if len(job.RepositoryIDs) == 0 && rec.RepositoryID != "" {
		job.RepositoryIDs = []string{rec.RepositoryID}
		changed = true
	} else if rec.RepositoryID != "" {
		changed = true
	}
	if job.RepositoryIDs == nil {
		job.RepositoryIDs = []string{}
	}
	if job.CronExpression == "" && rec.Schedule != "" {
		job.CronExpression = rec.Schedule
		changed = true
	} else if rec.Schedule != "" {
		changed = true
	}
	if job.CronExpression == "" {
		job.CronExpression = DefaultCronExpression
		changed = true
	}
	return job, changed
}

// write replaces the store file via a temp file and rename.
func (s *Store) write(doc *Document) error {
	doc.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
