// SPDX-License-Identifier: MIT
// Package server exposes sync, preview, credential validation and the
// scheduler over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skaphos/reposync/internal/engine"
	"github.com/skaphos/reposync/internal/model"
	"github.com/skaphos/reposync/internal/scheduler"
	"github.com/skaphos/reposync/internal/store"
)

// Syncer is the engine surface the API drives.
type Syncer interface {
	SyncRepository(ctx context.Context, id string) (model.SyncResult, error)
	LoadRequest(ctx context.Context, id string) (engine.Request, error)
	PreviewSync(ctx context.Context, req engine.Request) ([]model.SyncDiff, error)
	ValidateCredentials(ctx context.Context, url, username, token string, kind model.CredentialKind) engine.Validation
}

// Scheduler is the scheduler surface the API drives.
type Scheduler interface {
	StartJob(job model.ScheduledJob) error
	StopJob(id string) bool
	RunNow(ctx context.Context, id string) (model.JobRun, error)
	ActiveJobs() []model.ScheduledJob
}

// JobStore reads scheduled jobs.
type JobStore interface {
	Jobs(ctx context.Context) ([]model.ScheduledJob, error)
	Job(ctx context.Context, id string) (model.ScheduledJob, error)
}

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// JobView is a stored job with its live scheduler state.
type JobView struct {
	model.ScheduledJob
	Armed bool `json:"armed"`
}

// CronResponse reports whether an expression is valid and when it fires.
type CronResponse struct {
	Expression string     `json:"expression"`
	Valid      bool       `json:"valid"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
}

// Server is the HTTP server for RepoSync.
type Server struct {
	addr      string
	syncer    Syncer
	scheduler Scheduler
	jobs      JobStore
	log       logrus.FieldLogger
	now       func() time.Time

	mux          *http.ServeMux
	ready        chan struct{}
	drainTimeout time.Duration

	httpMu   sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// New creates a Server listening on addr once started. scheduler may be
// nil when scheduling is disabled; the scheduler routes then answer 503.
func New(addr string, syncer Syncer, sched Scheduler, jobs JobStore, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		addr:      addr,
		syncer:    syncer,
		scheduler: sched,
		jobs:      jobs,
		log:       log,
		now:       time.Now,
		mux:       http.NewServeMux(),
		ready:     make(chan struct{}),

		drainTimeout: defaultDrainTimeout,
	}
	s.routes()
	return s
}

// Ready returns a channel that is closed when the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/sync", s.handleSync)
	s.mux.HandleFunc("POST /api/sync/preview", s.handlePreview)
	s.mux.HandleFunc("POST /api/credentials/validate", s.handleValidate)

	s.mux.HandleFunc("GET /api/scheduler/jobs", s.handleJobs)
	s.mux.HandleFunc("POST /api/scheduler/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("POST /api/scheduler/jobs/{id}/stop", s.handleStopJob)
	s.mux.HandleFunc("POST /api/scheduler/trigger", s.handleTrigger)
	s.mux.HandleFunc("GET /api/scheduler/cron", s.handleCron)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{"scheduler": s.scheduler != nil}
	if s.scheduler != nil {
		checks["active_jobs"] = len(s.scheduler.ActiveJobs())
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

type repositoryRequest struct {
	RepositoryID string `json:"repositoryId"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var body repositoryRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.RepositoryID) == "" {
		writeError(w, http.StatusBadRequest, "missing required field repositoryId")
		return
	}
	result, err := s.syncer.SyncRepository(r.Context(), body.RepositoryID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type previewResponse struct {
	RepositoryID string           `json:"repositoryId"`
	BranchPairs  []model.SyncDiff `json:"branchPairs"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var body repositoryRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.RepositoryID) == "" {
		writeError(w, http.StatusBadRequest, "missing required field repositoryId")
		return
	}
	req, err := s.syncer.LoadRequest(r.Context(), body.RepositoryID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	diffs, err := s.syncer.PreviewSync(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{RepositoryID: body.RepositoryID, BranchPairs: diffs})
}

type validateRequest struct {
	Type     model.CredentialKind `json:"type"`
	Username string               `json:"username"`
	Token    string               `json:"token"`
	URL      string               `json:"url"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var body validateRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Type == "" || body.Token == "" || body.URL == "" {
		writeError(w, http.StatusBadRequest, "missing required fields (type, token and url are required)")
		return
	}
	result := s.syncer.ValidateCredentials(r.Context(), body.URL, body.Username, body.Token, body.Type)
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, result)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.Jobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	armed := map[string]*time.Time{}
	if s.scheduler != nil {
		for _, job := range s.scheduler.ActiveJobs() {
			armed[job.ID] = job.NextRunAt
		}
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		next, ok := armed[job.ID]
		if ok {
			job.NextRunAt = next
		}
		views = append(views, JobView{ScheduledJob: job, Armed: ok})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	job, err := s.jobs.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if err := s.scheduler.StartJob(job); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	for _, active := range s.scheduler.ActiveJobs() {
		if active.ID == job.ID {
			job = active
		}
	}
	writeJSON(w, http.StatusOK, JobView{ScheduledJob: job, Armed: true})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	stopped := s.scheduler.StopJob(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

type triggerRequest struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	var body triggerRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.JobID) == "" {
		writeError(w, http.StatusBadRequest, "missing required field jobId")
		return
	}
	run, err := s.scheduler.RunNow(r.Context(), body.JobID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	expr := strings.TrimSpace(r.URL.Query().Get("expression"))
	if expr == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter expression")
		return
	}
	resp := CronResponse{Expression: expr}
	if next, err := scheduler.NextRunAfter(expr, s.now()); err == nil {
		resp.Valid = true
		resp.NextRunAt = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireScheduler(w http.ResponseWriter) bool {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is disabled")
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidCron):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrJobDisabled):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}
