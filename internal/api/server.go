// Package api serves run status, history and a live step stream over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signalsfoundry/migration-simulator/internal/logging"
	"github.com/signalsfoundry/migration-simulator/internal/observability"
	"github.com/signalsfoundry/migration-simulator/internal/persistence"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

// StatusSource reports the live run; *sim.Loop implements it.
type StatusSource interface {
	RunID() string
	Completed() int
	Config() sim.Config
	LastReport() (sim.StepReport, bool)
}

// History serves stored runs; *persistence.Store implements it.
type History interface {
	Runs(ctx context.Context) ([]persistence.RunRecord, error)
	Run(ctx context.Context, runID string) (persistence.RunRecord, error)
	Steps(ctx context.Context, runID string) ([]persistence.StepRecord, error)
	ListCheckpoints(ctx context.Context, runID string) ([]persistence.CheckpointInfo, error)
}

// Options wires the router. Every field is optional; routes whose
// dependency is missing answer 503.
type Options struct {
	Status  StatusSource
	History History
	Stream  *Broadcaster
	Metrics http.Handler
	HTTP    *observability.HTTPCollector
	Log     logging.Logger
}

type server struct {
	opts Options
	log  logging.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	RunID     string          `json:"runId"`
	Completed int             `json:"completed"`
	MaxSteps  int             `json:"maxSteps"`
	Clients   int             `json:"streamClients"`
	Last      *sim.StepReport `json:"last,omitempty"`
}

// NewRouter builds the HTTP API:
//
//	GET /healthz
//	GET /metrics
//	GET /status
//	GET /stream                      websocket of run events
//	GET /runs
//	GET /runs/{runID}
//	GET /runs/{runID}/steps
//	GET /runs/{runID}/checkpoints
func NewRouter(opts Options) http.Handler {
	s := &server{opts: opts, log: opts.Log}
	if s.log == nil {
		s.log = logging.Noop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if opts.HTTP != nil {
		r.Use(opts.HTTP.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/status", s.handleStatus)
	if opts.Stream != nil {
		r.Method(http.MethodGet, "/stream", opts.Stream)
	}

	r.Route("/runs", func(runs chi.Router) {
		runs.Get("/", s.handleRuns)
		runs.Get("/{runID}", s.handleRun)
		runs.Get("/{runID}/steps", s.handleSteps)
		runs.Get("/{runID}/checkpoints", s.handleCheckpoints)
	})
	return r
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUN", "no simulation attached")
		return
	}
	resp := StatusResponse{
		RunID:     s.opts.Status.RunID(),
		Completed: s.opts.Status.Completed(),
		MaxSteps:  s.opts.Status.Config().MaxSteps,
	}
	if s.opts.Stream != nil {
		resp.Clients = s.opts.Stream.Clients()
	}
	if last, ok := s.opts.Status.LastReport(); ok {
		resp.Last = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	runs, err := s.opts.History.Runs(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	run, err := s.opts.History.Run(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleSteps(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	runID := chi.URLParam(r, "runID")
	if _, err := s.opts.History.Run(r.Context(), runID); err != nil {
		s.storeError(w, r, err)
		return
	}
	steps, err := s.opts.History.Steps(r.Context(), runID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if steps == nil {
		steps = []persistence.StepRecord{}
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	runID := chi.URLParam(r, "runID")
	if _, err := s.opts.History.Run(r.Context(), runID); err != nil {
		s.storeError(w, r, err)
		return
	}
	cps, err := s.opts.History.ListCheckpoints(r.Context(), runID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *server) requireHistory(w http.ResponseWriter) bool {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_STORE", "persistence is disabled")
		return false
	}
	return true
}

func (s *server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	s.log.Error(r.Context(), "history query failed",
		logging.String("route", observability.RoutePattern(r)),
		logging.Err(err),
	)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "history query failed")
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
