package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/seqopt/internal/errors"
	"github.com/copyleftdev/seqopt/internal/optimization"
	"github.com/copyleftdev/seqopt/internal/optimization/registry"
	"github.com/copyleftdev/seqopt/internal/optimization/space"
)

// Session is one optimizer bound to a search space. The optimizer is not
// safe for concurrent use, so every operation holds mu; ask/tell calls on
// the same session are served strictly one after another.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	opt      registry.Optimizer
	design   *space.Space
	search   *space.Space
	lastUsed time.Time
	lastFit  string
}

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	Config optimization.Config `json:"config"`
	Space  []space.Variable    `json:"space"`
	// SearchSpace names the variables the optimizer searches over. The
	// rest of the design space takes its values from Context. Empty means
	// the whole design space.
	SearchSpace []string            `json:"search_space,omitempty"`
	Context     optimization.Sample `json:"context,omitempty"`
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID           string              `json:"id"`
	Optimizer    optimization.Name   `json:"optimizer"`
	Config       optimization.Config `json:"config"`
	Space        *space.Space        `json:"space"`
	SearchSpace  *space.Space        `json:"search_space"`
	Observations int                 `json:"observations"`
	Best         optimization.Sample `json:"best,omitempty"`
	BestValue    *float64            `json:"best_value,omitempty"`
	LastFit      string              `json:"last_fit,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	LastUsed     time.Time           `json:"last_used"`
}

// SuggestRequest is the body of POST /api/v1/sessions/{id}/suggest.
type SuggestRequest struct {
	N int `json:"n"`
}

// SuggestResponse carries the proposed samples. Predictions are present
// once the session's surrogate is fitted, one per sample.
type SuggestResponse struct {
	Samples     []optimization.Sample `json:"samples"`
	Predictions []Prediction          `json:"predictions,omitempty"`
}

// Prediction is the surrogate's posterior at a suggested sample, on the
// scale of the observed values.
type Prediction struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

type samplePredictor interface {
	PredictSamples(samples []optimization.Sample) ([]float64, []float64, error)
}

// ObserveRequest is the body of POST /api/v1/sessions/{id}/observe.
type ObserveRequest struct {
	Samples []optimization.Sample `json:"samples"`
	Values  []float64             `json:"values"`
}

// ObserveResponse reports the surrogate update.
type ObserveResponse struct {
	Outcome      string `json:"outcome"`
	Observations int    `json:"observations"`
}

func (s *Server) createSession(req CreateSessionRequest) (*SessionInfo, error) {
	design, err := space.New(req.Space...)
	if err != nil {
		return nil, err
	}
	search := design
	if len(req.SearchSpace) > 0 {
		vars := make([]space.Variable, 0, len(req.SearchSpace))
		for _, name := range req.SearchSpace {
			v, ok := design.Variable(name)
			if !ok {
				return nil, optimization.ConfigErrorf("search variable %q is not in the design space", name).WithComponent("server")
			}
			vars = append(vars, v)
		}
		if search, err = space.New(vars...); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	opt, err := registry.New(req.Config, s.zlog.With(zap.String("session", id)))
	if err != nil {
		return nil, err
	}
	if err := opt.Reset(design, search); err != nil {
		return nil, err
	}
	if len(req.Context) > 0 {
		opt.SetContext(req.Context)
	}

	now := s.now()
	sess := &Session{ID: id, CreatedAt: now, opt: opt, design: design, search: search, lastUsed: now}

	s.sessionsMu.Lock()
	if limit := s.maxSessions(); limit > 0 && len(s.sessions) >= limit {
		s.sessionsMu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrConflict, "session limit of %d reached", limit)
	}
	s.sessions[id] = sess
	s.sessionsMu.Unlock()
	s.metrics.SessionOpened()

	s.logger.Info("Session created", map[string]interface{}{
		"session":   id,
		"optimizer": string(opt.Config().Optimizer),
		"input_dim": search.InputDim(),
	})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info(), nil
}

func (s *Server) maxSessions() int {
	if s.cfg == nil {
		return 0
	}
	return s.cfg.Sessions.MaxSessions
}

// session looks up an open session.
func (s *Server) session(id string) (*Session, error) {
	s.sessionsMu.RLock()
	sess, ok := s.sessions[id]
	s.sessionsMu.RUnlock()
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "session %q not found", id)
	}
	return sess, nil
}

func (s *Server) deleteSession(id string) error {
	s.sessionsMu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotFound, "session %q not found", id)
	}
	s.metrics.SessionClosed()
	s.logger.Info("Session deleted", map[string]interface{}{"session": id})
	return nil
}

// evictIdle drops sessions unused for longer than the idle TTL. A session
// busy with a request is never evicted.
func (s *Server) evictIdle() int {
	if s.cfg == nil || s.cfg.Sessions.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.Sessions.IdleTTL)

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.lastUsed.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			s.metrics.SessionClosed()
			n++
		}
	}
	return n
}

func (s *Server) listSessions() []*SessionInfo {
	s.sessionsMu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessionsMu.RUnlock()

	out := make([]*SessionInfo, 0, len(all))
	for _, sess := range all {
		sess.mu.Lock()
		out = append(out, sess.info())
		sess.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Server) suggest(ctx context.Context, id string, n int) (*SuggestResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, apperrors.Wrapf(apperrors.ErrBadRequest, "n must not be negative, got %d", n)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	samples, err := sess.opt.SuggestContext(ctx, n)
	if err != nil {
		return nil, err
	}
	sess.lastUsed = s.now()
	s.metrics.Suggested(sess.opt.Config().Optimizer, len(samples))
	return &SuggestResponse{Samples: samples, Predictions: predictions(sess.opt, samples)}, nil
}

// predictions is nil for optimizers without a surrogate or before the
// first fit.
func predictions(opt registry.Optimizer, samples []optimization.Sample) []Prediction {
	p, ok := opt.(samplePredictor)
	if !ok || len(samples) == 0 {
		return nil
	}
	mean, variance, err := p.PredictSamples(samples)
	if err != nil {
		return nil
	}
	out := make([]Prediction, len(samples))
	for i := range out {
		out[i] = Prediction{Mean: mean[i], Variance: variance[i]}
	}
	return out
}

func (s *Server) observe(id string, req ObserveRequest) (*ObserveResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if len(req.Samples) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrBadRequest, "samples must not be empty")
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	outcome, err := sess.opt.Observe(req.Samples, req.Values)
	if err != nil {
		return nil, err
	}
	sess.lastUsed = s.now()
	sess.lastFit = outcome.String()
	s.metrics.Fitted(sess.opt.Config().Optimizer, outcome)
	if outcome == optimization.FitSkippedNumericalInstability {
		s.logger.Warn("Surrogate update skipped", map[string]interface{}{"session": id})
	}

	_, Y := sess.opt.Observations()
	return &ObserveResponse{Outcome: outcome.String(), Observations: len(Y)}, nil
}

// info must be called with mu held.
func (sess *Session) info() *SessionInfo {
	_, Y := sess.opt.Observations()
	cfg := sess.opt.Config()
	info := &SessionInfo{
		ID:           sess.ID,
		Optimizer:    cfg.Optimizer,
		Config:       cfg,
		Space:        sess.design,
		SearchSpace:  sess.search,
		Observations: len(Y),
		LastFit:      sess.lastFit,
		CreatedAt:    sess.CreatedAt,
		LastUsed:     sess.lastUsed,
	}
	if best, v, ok := sess.opt.Best(); ok {
		info.Best, info.BestValue = best, &v
	}
	return info
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.createSession(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.listSessions()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.mu.Lock()
	info := sess.info()
	sess.mu.Unlock()
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteSession(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.suggest(r.Context(), chi.URLParam(r, "id"), req.N)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req ObserveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.observe(chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
