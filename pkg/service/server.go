// Package service exposes the guardrails pipeline over HTTP: a chat
// endpoint that runs full turns, transcript access per session, and the
// usual health and metrics surfaces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rampart-ai/rampart/internal/governance"
	"github.com/rampart-ai/rampart/pkg/domain"
	"github.com/rampart-ai/rampart/pkg/engine"
	"github.com/rampart-ai/rampart/pkg/guard"
	"github.com/rampart-ai/rampart/pkg/history"
)

const defaultShutdownTimeout = 10 * time.Second

// Options configures a Server. Engine, Guard, and Store are required; the
// rest default to an own-registry metrics instance, the process logger,
// and a 10s shutdown grace.
type Options struct {
	Addr            string
	Engine          *engine.Orchestrator
	Guard           *guard.Guardrails
	Store           history.Store
	Metrics         *Metrics
	Logger          *slog.Logger
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the chat service HTTP server.
type Server struct {
	addr            string
	engine          *engine.Orchestrator
	guard           *guard.Guardrails
	store           history.Store
	metrics         *Metrics
	logger          *slog.Logger
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	httpServer *http.Server
	stopOnce   sync.Once
}

// New creates a chat service server.
func New(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		addr:            opts.Addr,
		engine:          opts.Engine,
		guard:           opts.Guard,
		store:           opts.Store,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		readTimeout:     opts.ReadTimeout,
		writeTimeout:    opts.WriteTimeout,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Metrics returns the service metrics instance.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the full service handler: routes wrapped in request
// metrics and an otelhttp span per request.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /v1/sessions/{id}/history", s.handleClearHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return otelhttp.NewHandler(s.metrics.Middleware(mux), "rampart.service")
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("service: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("stopping chat service")
		if s.httpServer != nil {
			if stopErr := s.httpServer.Shutdown(ctx); stopErr != nil {
				s.logger.Error("failed to shut down HTTP server", "error", stopErr)
				err = stopErr
			}
		}
	})
	return err
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	TurnID   string              `json:"turn_id"`
	Reply    string              `json:"reply"`
	Metadata domain.TurnMetadata `json:"metadata"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type historyResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []domain.Message `json:"messages"`
}

// handleChat runs one conversational turn and maps the terminal state onto
// an HTTP status: delivered turns return 200, guardrail rejections 403,
// throttled sessions 429 with rate headers, and upstream failures 502.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id and message are required"})
		return
	}

	result, err := s.engine.RunTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeTurnFailure(w, req.SessionID, result, err)
		return
	}

	s.updateSessionGauge(r.Context())

	writeJSON(w, http.StatusOK, chatResponse{
		TurnID:   result.TurnID,
		Reply:    result.Reply,
		Metadata: result.Metadata,
	})
}

// writeTurnFailure renders a failed turn. The reply carried by the result
// is already the configured user-facing copy, never raw model text.
func (s *Server) writeTurnFailure(w http.ResponseWriter, sessionID string, result engine.TurnResult, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		s.metrics.RecordRejection("rate_limited")
		limiter := s.guard.Limiter()
		governance.WriteRateLimitHeaders(w, limiter.Limit(), limiter.Remaining(sessionID), result.RetryAfter)
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:  "rate limited",
			Reason: result.Reply,
		})

	case errors.Is(err, domain.ErrInputRejected):
		s.metrics.RecordRejection("input")
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:  "input rejected",
			Reason: result.Reply,
		})

	case errors.Is(err, domain.ErrOutputRejected):
		s.metrics.RecordRejection("output")
		writeJSON(w, http.StatusForbidden, errorResponse{
			Error:  "output rejected",
			Reason: result.Reply,
		})

	default:
		s.logger.Error("turn failed", "session_id", sessionID, "stage", string(result.Stage), "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "generation failed"})
	}
}

// handleGetHistory returns the session transcript with per-message metadata.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	msgs, err := s.store.Messages(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to load transcript", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load transcript"})
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

// handleClearHistory removes the session transcript.
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := s.store.Clear(r.Context(), sessionID); err != nil {
		s.logger.Error("failed to clear transcript", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to clear transcript"})
		return
	}

	s.updateSessionGauge(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// sessionLister is implemented by stores that can enumerate sessions. The
// active session gauge is only maintained for those.
type sessionLister interface {
	Sessions(ctx context.Context) ([]string, error)
}

func (s *Server) updateSessionGauge(ctx context.Context) {
	lister, ok := s.store.(sessionLister)
	if !ok {
		return
	}
	sessions, err := lister.Sessions(ctx)
	if err != nil {
		return
	}
	s.metrics.SetActiveSessions(len(sessions))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
