// Package server exposes the authentication engine over an HTTP JSON API.
//
// Endpoints:
//   - POST /api/register - enroll a user with password and typing profile
//   - POST /api/login    - authenticate password plus typing rhythm
//   - POST /api/logout   - end the current session
//   - GET  /api/attempts - recent attempts for the session's user
//   - GET  /healthz      - health check
//   - GET  /metrics      - Prometheus scrape endpoint
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"typeshield/internal/behaviour"
	"typeshield/internal/config"
	"typeshield/internal/logging"
	"typeshield/internal/metrics"
	"typeshield/internal/policy"
	"typeshield/internal/security"
	"typeshield/internal/store"
)

// maxBodyBytes bounds request bodies; timing vectors are small.
const maxBodyBytes = 256 * 1024

// sessionCookieName is the cookie carrying the signed session value.
const sessionCookieName = "typeshield_session"

// Server wires the store, scorer, policy and sessions behind HTTP handlers.
type Server struct {
	store    *store.Store
	sessions *sessionManager
	limiter  *security.LoginLimiter
	metrics  *metrics.AuthMetrics
	log      *logging.Logger

	mu     sync.RWMutex
	policy *policy.Policy
	scorer *behaviour.Scorer

	httpServer *http.Server
}

// New builds a Server from configuration. The scorer can be swapped later
// via UpdateScorer when the configuration reloads.
func New(cfg *config.Config, st *store.Store, log *logging.Logger, m *metrics.AuthMetrics) (*Server, error) {
	scorer, err := behaviour.NewScorer(cfg.Behaviour)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:    st,
		sessions: newSessionManager(cfg.Server.SessionSecret, cfg.SessionTTL()),
		limiter:  security.NewLoginLimiter(cfg.Security.LoginRatePerMin, cfg.Security.LoginBurst),
		metrics:  m,
		log:      log.WithComponent("server"),
		scorer:   scorer,
		policy:   policy.New(scorer, st),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/attempts", s.handleAttempts)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if cfg.Metrics.Enabled && m != nil {
		mux.Handle("GET /metrics", m.Registry().HTTPHandler())
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.middleware(mux),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return s, nil
}

// UpdateScorer swaps the scorer and policy, used on config reload.
func (s *Server) UpdateScorer(cfg behaviour.Config) error {
	scorer, err := behaviour.NewScorer(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.scorer = scorer
	s.policy = policy.New(scorer, s.store)
	s.mu.Unlock()

	s.log.Info("scorer configuration updated", "threshold", cfg.Threshold)
	return nil
}

func (s *Server) currentPolicy() *policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the full handler chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// middleware adds request IDs, panic recovery and access logging.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := logging.ContextWithRequestID(r.Context(), reqID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithRequestID(reqID).Error("handler panic", "panic", rec, "path", r.URL.Path)
				if s.metrics != nil {
					s.metrics.ErrorsTotal.Inc()
				}
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)

		s.log.WithRequestID(reqID).Debug("request handled",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
