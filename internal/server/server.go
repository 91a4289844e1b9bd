// Package server exposes optimizers as ask/tell sessions and benchmark
// suites as an evaluation service over HTTP and JSON-RPC 2.0.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/copyleftdev/seqopt/internal/benchmark"
	"github.com/copyleftdev/seqopt/internal/config"
	apperrors "github.com/copyleftdev/seqopt/internal/errors"
	"github.com/copyleftdev/seqopt/internal/logging"
	"github.com/copyleftdev/seqopt/internal/metrics"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 8 << 20

// Server implements the HTTP and JSON-RPC server. It owns the open sessions
// and the suite served for remote evaluation.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	zlog    *zap.Logger
	metrics *metrics.Metrics
	suite   *benchmark.Suite
	now     func() time.Time

	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithSuite serves the suite's problems under /api/v1/tasks.
func WithSuite(suite *benchmark.Suite) Option {
	return func(s *Server) {
		if suite != nil {
			s.suite = suite
		}
	}
}

// WithMetrics records session and evaluation metrics and serves them at
// /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// withClock replaces time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a new server instance with the given config and logger.
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		zlog:     logging.NewZapLogger(logger),
		suite:    benchmark.NewSuite(0),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the API on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/suggest", s.handleSuggest)
				r.Post("/observe", s.handleObserve)
			})
		})
		r.Get("/tasks", s.handleTasks)
		r.Post("/tasks/{name}/evaluate", s.handleEvaluate)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Handler builds the complete router with middleware, health check and
// metrics endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(apperrors.RecoveryMiddleware(s.logger))
	r.Use(apperrors.ErrorHandler(s.logger))
	if s.cfg != nil && s.cfg.HTTP.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.HTTP.RequestTimeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("Health check")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	s.RegisterRoutes(r)
	return r
}

// StartJanitor evicts idle sessions every interval until Close. It does
// nothing when the idle TTL is disabled.
func (s *Server) StartJanitor(interval time.Duration) {
	if s.cfg == nil || s.cfg.Sessions.IdleTTL <= 0 || interval <= 0 || s.stopJanitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel
	s.janitorDone = make(chan struct{})

	go func() {
		defer close(s.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.evictIdle(); n > 0 {
					s.logger.Info("Evicted idle sessions", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}

// Close stops the janitor and drops every session.
func (s *Server) Close() error {
	if s.stopJanitor != nil {
		s.stopJanitor()
		<-s.janitorDone
		s.stopJanitor = nil
	}

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for id := range s.sessions {
		delete(s.sessions, id)
		s.metrics.SessionClosed()
	}
	return nil
}

// decodeJSON reads a JSON body, rejecting unknown fields. An empty body
// leaves dest untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if apperrors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Wrapf(apperrors.ErrBadRequest, "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, benchmark.TasksResponse{Tasks: s.listTasks()})
}

func (s *Server) listTasks() []benchmark.TaskInfo {
	tasks := s.suite.Tasks()
	if tasks == nil {
		tasks = []benchmark.TaskInfo{}
	}
	return tasks
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req benchmark.EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.evaluate(r.Context(), chi.URLParam(r, "name"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) evaluate(ctx context.Context, task string, req benchmark.EvaluateRequest) (*benchmark.EvaluateResponse, error) {
	if len(req.Samples) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrBadRequest, "samples must not be empty")
	}
	if _, err := s.suite.Problem(task); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	start := s.now()
	values, err := s.suite.Evaluate(ctx, task, req.Samples)
	s.metrics.Evaluated(task, s.now().Sub(start), err)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", task, err)
	}
	return &benchmark.EvaluateResponse{Task: task, Values: values}, nil
}
