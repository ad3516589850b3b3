// SPDX-License-Identifier: MIT
// Package scheduler fires scheduled sync jobs on their cron schedules.
//
// Each armed job owns one goroutine and one timer. The next firing is armed
// only after the current run has finished, so a job never overlaps itself.
// Different jobs, and interactive syncs, may run concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/sortutil"
	"github.com/skaphos/reposync/internal/store"
)

var (
	// ErrInvalidCron is returned when a job's cron expression cannot be parsed.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrJobDisabled is returned when arming a job whose Enabled flag is off.
	ErrJobDisabled = errors.New("job is disabled")
)

// fallbackDelay is used by NextRunTime when an expression cannot be parsed.
const fallbackDelay = time.Hour

// Five fields, an optional leading seconds field, or a descriptor such as
// @daily.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// IsValidCronExpression reports whether expr can be scheduled.
func IsValidCronExpression(expr string) bool {
	_, err := parser.Parse(expr)
	return err == nil
}

// NextRunAfter returns the first activation of expr strictly after from.
func NextRunAfter(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return schedule.Next(from), nil
}

// NextRunTime returns the next activation of expr after now. An expression
// that cannot be parsed yields one hour from now instead of an error; use
// NextRunAfter to tell the two apart.
func NextRunTime(expr string) time.Time {
	return nextRunOrFallback(expr, time.Now())
}

func nextRunOrFallback(expr string, now time.Time) time.Time {
	next, err := NextRunAfter(expr, now)
	if err != nil {
		return now.Add(fallbackDelay)
	}
	return next
}

// Syncer syncs one repository by id and records its outcome.
type Syncer interface {
	SyncRepository(ctx context.Context, id string) (model.SyncResult, error)
}

// Store is the slice of the configuration store the scheduler uses.
type Store interface {
	Jobs(ctx context.Context) ([]model.ScheduledJob, error)
	Job(ctx context.Context, id string) (model.ScheduledJob, error)
	RecordJobRun(ctx context.Context, id string, update store.JobRunUpdate) error
	SetJobNextRun(ctx context.Context, id string, next time.Time) error
}

type armedJob struct {
	job      model.ScheduledJob
	schedule cron.Schedule
	next     time.Time
	stop     chan struct{}
}

// Service owns the set of armed jobs. Create one per process with New.
type Service struct {
	syncer Syncer
	store  Store
	log    logrus.FieldLogger
	now    func() time.Time

	mu      sync.Mutex
	started bool
	runCtx  context.Context
	jobs    map[string]*armedJob
	loops   sync.WaitGroup
}

// New returns a stopped Service.
func New(syncer Syncer, st Store, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		syncer: syncer,
		store:  st,
		log:    log,
		now:    time.Now,
		runCtx: context.Background(),
		jobs:   map[string]*armedJob{},
	}
}

// Start arms every enabled job in the store. ctx bounds the syncs started
// by timers. Calling Start on a started Service does nothing.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Debug("scheduler already running")
		return nil
	}
	s.started = true
	s.runCtx = ctx
	s.mu.Unlock()

	jobs, err := s.store.Jobs(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("load scheduled jobs: %w", err)
	}
	armed := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if err := s.StartJob(job); err != nil {
			continue
		}
		armed++
	}
	s.log.WithField("jobs", armed).Info("scheduler started")
	return nil
}

// StartJob arms job, replacing any timer already armed for its id, and
// stores its next run time. Disabled jobs and invalid cron expressions are
// logged and rejected without arming.
func (s *Service) StartJob(job model.ScheduledJob) error {
	log := s.log.WithFields(logrus.Fields{"job": job.ID, "cron": job.CronExpression})
	if !job.Enabled {
		log.Warn("job is disabled, not armed")
		return fmt.Errorf("job %s: %w", job.ID, ErrJobDisabled)
	}
	schedule, err := parser.Parse(job.CronExpression)
	if err != nil {
		log.WithError(err).Error("invalid cron expression, job not armed")
		return fmt.Errorf("job %s: %w %q: %v", job.ID, ErrInvalidCron, job.CronExpression, err)
	}

	a := &armedJob{
		job:      job,
		schedule: schedule,
		next:     schedule.Next(s.now()),
		stop:     make(chan struct{}),
	}
	s.mu.Lock()
	if prev, ok := s.jobs[job.ID]; ok {
		close(prev.stop)
	}
	s.jobs[job.ID] = a
	ctx := s.runCtx
	s.loops.Add(1)
	s.mu.Unlock()

	go s.loop(ctx, a)

	if err := s.store.SetJobNextRun(ctx, job.ID, a.next); err != nil {
		log.WithError(err).Warn("could not store next run time")
	}
	log.WithFields(logrus.Fields{"next": a.next, "repositories": len(job.RepositoryIDs)}).Info("job armed")
	return nil
}

// StopJob disarms a job. A run already in progress finishes. It reports
// whether the job was armed.
func (s *Service) StopJob(id string) bool {
	s.mu.Lock()
	a, ok := s.jobs[id]
	if ok {
		close(a.stop)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		s.log.WithField("job", id).Info("job stopped")
	}
	return ok
}

// RestartJob stops and re-arms job.
func (s *Service) RestartJob(job model.ScheduledJob) error {
	s.StopJob(job.ID)
	return s.StartJob(job)
}

// Stop disarms every job and waits for running jobs to finish. The Service
// can be started again afterwards.
func (s *Service) Stop() {
	s.mu.Lock()
	for id, a := range s.jobs {
		close(a.stop)
		delete(s.jobs, id)
	}
	s.started = false
	s.mu.Unlock()

	s.loops.Wait()
	s.log.Info("scheduler stopped")
}

// Reconcile arms, re-arms and disarms jobs so the armed set matches jobs.
// Jobs whose schedule and enabled state are unchanged keep their timer.
func (s *Service) Reconcile(jobs []model.ScheduledJob) {
	wanted := make(map[string]model.ScheduledJob, len(jobs))
	for _, job := range jobs {
		if job.Enabled {
			wanted[job.ID] = job
		}
	}

	s.mu.Lock()
	var stale []string
	var changed []model.ScheduledJob
	for id, a := range s.jobs {
		job, ok := wanted[id]
		switch {
		case !ok:
			stale = append(stale, id)
		case job.CronExpression != a.job.CronExpression:
			changed = append(changed, job)
		default:
			// Same schedule: keep the timer, pick up edits to the job body.
			a.job = job
		}
		delete(wanted, id)
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.StopJob(id)
	}
	for _, job := range changed {
		_ = s.RestartJob(job)
	}
	for _, job := range wanted {
		_ = s.StartJob(job)
	}
}

// ActiveJobs returns the armed jobs with their next run time, sorted by name.
func (s *Service) ActiveJobs() []model.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledJob, 0, len(s.jobs))
	for _, a := range s.jobs {
		job := a.job
		next := a.next
		job.NextRunAt = &next
		out = append(out, job)
	}
	sortutil.SortJobs(out)
	return out
}

// RunNow runs a stored job immediately on the caller's goroutine and
// records the run. Disabled jobs may be run this way.
func (s *Service) RunNow(ctx context.Context, id string) (model.JobRun, error) {
	job, err := s.store.Job(ctx, id)
	if err != nil {
		return model.JobRun{}, err
	}
	return s.run(ctx, job, func() time.Time {
		s.mu.Lock()
		defer s.mu.Unlock()
		if a, ok := s.jobs[id]; ok {
			return a.next
		}
		now := s.now()
		if _, err := NextRunAfter(job.CronExpression, now); err != nil {
			s.log.WithError(err).WithField("job", id).Warn("falling back to next run in one hour")
		}
		return nextRunOrFallback(job.CronExpression, now)
	}), nil
}

func (s *Service) loop(ctx context.Context, a *armedJob) {
	defer s.loops.Done()
	for {
		s.mu.Lock()
		next, id := a.next, a.job.ID
		s.mu.Unlock()
		if next.IsZero() {
			// The schedule never fires again.
			s.log.WithField("job", id).Warn("cron expression has no future activation")
			select {
			case <-a.stop:
			case <-ctx.Done():
			}
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
		case <-a.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
		select {
		case <-a.stop:
			return
		default:
		}

		s.mu.Lock()
		job := a.job
		s.mu.Unlock()
		s.run(ctx, job, func() time.Time {
			s.mu.Lock()
			defer s.mu.Unlock()
			a.next = a.schedule.Next(s.now())
			return a.next
		})
	}
}

// run syncs every repository of job in order and records the run. A
// repository failure does not stop the remaining ones.
func (s *Service) run(ctx context.Context, job model.ScheduledJob, nextRun func() time.Time) model.JobRun {
	log := s.log.WithFields(logrus.Fields{"job": job.ID, "name": job.Name})
	log.WithField("repositories", len(job.RepositoryIDs)).Info("running scheduled job")

	run := model.JobRun{JobID: job.ID, StartedAt: s.now(), Results: make([]model.RepositoryRun, 0, len(job.RepositoryIDs))}
	for _, id := range job.RepositoryIDs {
		res := model.RepositoryRun{RepositoryID: id}
		result, err := s.syncer.SyncRepository(ctx, id)
		switch {
		case err != nil:
			res.Error = err.Error()
		case !result.Success:
			res.Error = result.Error
		default:
			res.Success = true
		}
		log.WithFields(logrus.Fields{"repository": id, "success": res.Success}).Debug("repository synced")
		run.Results = append(run.Results, res)
	}
	run.FinishedAt = s.now()
	run.NextRunAt = nextRun()

	update := store.JobRunUpdate{LastRunAt: run.FinishedAt, NextRunAt: run.NextRunAt, Status: run.Status()}
	// The run happened even if ctx has ended since; record it.
	if err := s.store.RecordJobRun(context.WithoutCancel(ctx), job.ID, update); err != nil {
		log.WithError(err).Warn("could not record job run")
	}
	log.WithFields(logrus.Fields{
		"total":  len(run.Results),
		"failed": run.Failed(),
		"status": run.Status(),
		"next":   run.NextRunAt,
	}).Info("scheduled job completed")
	return run
}
