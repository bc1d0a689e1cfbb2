// Package server exposes solves over REST and JSON-RPC 2.0. Each request
// becomes a job that runs on a bounded set of workers; clients poll for the
// result.
package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/descent/internal/config"
	apperrors "github.com/copyleftdev/descent/internal/errors"
	"github.com/copyleftdev/descent/internal/logging"
	"github.com/copyleftdev/descent/internal/metrics"
	"github.com/copyleftdev/descent/internal/optimization/solver"
	"github.com/copyleftdev/descent/internal/problems"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one submitted solve.
type Job struct {
	ID        string         `json:"optimization_id"`
	Status    JobStatus      `json:"status"`
	Method    solver.Method  `json:"method"`
	Problem   string         `json:"problem"`
	Created   time.Time      `json:"created"`
	Started   *time.Time     `json:"started,omitempty"`
	Ended     *time.Time     `json:"ended,omitempty"`
	Result    *solver.Report `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`

	spec *solver.Spec
	opts solver.Options
}

// OptimizeRequest is the body of POST /api/v1/optimize and the params of
// optimization.start. Method is a name; empty selects OPT_DEFAULT_METHOD.
type OptimizeRequest struct {
	solver.Request
	Method string `json:"method"`
	// History includes per-iteration diagnostics in the result.
	History bool `json:"history,omitempty"`
}

// Server implements the HTTP and JSON-RPC server for the optimization service.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	zap     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// slots bounds concurrent solves at OPT_WORKER_COUNT.
	slots   chan struct{}
	closing chan struct{}
	wg      sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*Job
	history map[string]bool
	closed  bool
}

// NewServer creates a server. A nil m records into unregistered collectors.
func NewServer(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	workers := cfg.Optimization.WorkerCount
	if workers < 1 {
		workers = 1
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		zap:     logging.NewZapLogger(logger).Named("solver"),
		metrics: m,
		now:     time.Now,
		slots:   make(chan struct{}, workers),
		closing: make(chan struct{}),
		jobs:    make(map[string]*Job),
		history: make(map[string]bool),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/optimization/{id}", s.handleCancel)
		r.Get("/problems", s.handleProblems)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// Start validates req and queues it. Problem-definition errors are returned
// here rather than through the job.
func (s *Server) Start(req OptimizeRequest) (*Job, error) {
	method := s.cfg.DefaultMethod()
	if req.Method != "" {
		m, err := solver.ParseMethod(req.Method)
		if err != nil {
			return nil, err
		}
		method = m
	}
	spec, err := solver.Resolve(req.Request)
	if err != nil {
		return nil, err
	}
	if err := spec.Check(method); err != nil {
		return nil, err
	}
	opts := req.Options
	if opts.MaxIterations == 0 {
		opts.MaxIterations = s.cfg.Optimization.MaxIterations
	}
	if opts.Tolerance == 0 {
		opts.Tolerance = s.cfg.Optimization.Tolerance
	}

	now := s.now()
	job := &Job{
		ID:      uuid.NewString(),
		Status:  StatusPending,
		Method:  method,
		Problem: req.Problem,
		Created: now,
		spec:    spec,
		opts:    opts,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.New("server is shutting down").WithStatus(http.StatusServiceUnavailable)
	}
	s.pruneLocked(now)
	s.jobs[job.ID] = job
	s.history[job.ID] = req.History
	snapshot := *job
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Optimization queued", map[string]interface{}{
		"optimization_id": job.ID,
		"method":          method.String(),
		"problem":         req.Problem,
	})
	go s.run(job.ID)
	return &snapshot, nil
}

// run waits for a worker slot and solves the job. A job cancelled while
// queued never starts; one cancelled while running has its result dropped.
func (s *Server) run(id string) {
	defer s.wg.Done()

	select {
	case s.slots <- struct{}{}:
	case <-s.closing:
		s.finish(id, func(j *Job) { j.Status = StatusCancelled })
		return
	}
	defer func() { <-s.slots }()

	s.mu.Lock()
	job := s.jobs[id]
	if job == nil || job.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	started := s.now()
	job.Status = StatusRunning
	job.Started = &started
	method, spec, opts, withHistory := job.Method, job.spec, job.opts, s.history[id]
	s.mu.Unlock()

	done := s.metrics.Start(method.String())
	res, err := solver.Run(method, spec, opts, s.zap.With(zap.String("optimization_id", id)))

	outcome := metrics.OutcomeError
	iterations := 0
	if err == nil {
		iterations = res.Iterations
		outcome = metrics.OutcomeNotConverged
		if res.Converged {
			outcome = metrics.OutcomeConverged
		}
	}

	var cancelled bool
	s.finish(id, func(j *Job) {
		if j.Status == StatusCancelled {
			cancelled = true
			return
		}
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			j.ErrorKind = apperrors.Kind(err)
			return
		}
		report := solver.NewReport(res, withHistory)
		j.Status = StatusCompleted
		j.Result = &report
	})
	if cancelled {
		outcome = metrics.OutcomeCancelled
	}
	done(outcome, iterations)

	fields := map[string]interface{}{
		"optimization_id": id,
		"method":          method.String(),
		"outcome":         outcome,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("Optimization failed", fields)
		return
	}
	fields["status"] = res.Status.String()
	fields["iterations"] = res.Iterations
	fields["f"] = res.F
	s.logger.Info("Optimization finished", fields)
}

// finish applies update to a job under the lock and stamps its end time.
func (s *Server) finish(id string, update func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	if job == nil {
		return
	}
	update(job)
	if job.Ended == nil {
		ended := s.now()
		job.Ended = &ended
	}
	job.spec = nil
}

// pruneLocked drops terminal jobs older than OPT_JOB_RETENTION.
func (s *Server) pruneLocked(now time.Time) {
	retention := s.cfg.Optimization.JobRetention
	if retention <= 0 {
		return
	}
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.Ended != nil && now.Sub(*job.Ended) > retention {
			delete(s.jobs, id)
			delete(s.history, id)
		}
	}
}

// Status returns a copy of the job.
func (s *Server) Status(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("optimization %s not found", id)
	}
	snapshot := *job
	return &snapshot, nil
}

// Cancel stops a pending job or discards the result of a running one.
func (s *Server) Cancel(id string) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NotFound("optimization %s not found", id)
	}
	if job.Status.Terminal() {
		status := job.Status
		s.mu.Unlock()
		return nil, apperrors.Errorf("cannot cancel optimization with status %s", status).WithStatus(http.StatusConflict)
	}
	job.Status = StatusCancelled
	now := s.now()
	job.Ended = &now
	snapshot := *job
	s.mu.Unlock()

	s.logger.Info("Optimization cancelled", map[string]interface{}{
		"optimization_id": id,
	})
	return &snapshot, nil
}

// ProblemCatalog is the response of GET /api/v1/problems.
type ProblemCatalog struct {
	Problems []*problems.Problem `json:"problems"`
	Methods  []solver.Method     `json:"methods"`
}

// Problems lists the named problems and methods the server accepts.
func (s *Server) Problems() ProblemCatalog {
	list := problems.List()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return ProblemCatalog{Problems: list, Methods: solver.Methods()}
}

// Close stops accepting jobs, cancels queued ones and waits for running
// solves to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleOptimize handles POST /api/v1/optimize.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.Respond(w, apperrors.Wrap(err, "invalid request body").WithStatus(http.StatusBadRequest))
		return
	}
	job, err := s.Start(req)
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"optimization_id": job.ID,
		"status":          job.Status,
	})
}

// handleStatus handles GET /api/v1/status/{id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancel handles DELETE /api/v1/optimization/{id}.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		apperrors.Respond(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"optimization_id": job.ID,
		"status":          job.Status,
	})
}

// handleProblems handles GET /api/v1/problems.
func (s *Server) handleProblems(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Problems())
}
