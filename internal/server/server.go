// Package server exposes the REST and WebSocket backend surface.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/config"
	"github.com/ponderer/ponderer/internal/events"
	"github.com/ponderer/ponderer/internal/scheduler"
	"github.com/ponderer/ponderer/internal/store"
)

const shutdownGrace = 5 * time.Second

// Server wires the HTTP surface to the store, scheduler, and event
// broadcaster.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	sched       *scheduler.Scheduler
	broadcaster *events.Broadcaster
	log         *zap.Logger
	baseDir     string

	mu       sync.Mutex
	approved map[string]bool
}

// New builds a Server. baseDir is where config writes are persisted.
func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, b *events.Broadcaster, log *zap.Logger, baseDir string) *Server {
	return &Server{
		cfg:         cfg,
		store:       st,
		sched:       sched,
		broadcaster: b,
		log:         log,
		baseDir:     baseDir,
		approved:    make(map[string]bool),
	}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/agent/status", s.handleAgentStatus)
	mux.HandleFunc("POST /v1/agent/toggle-pause", s.handleTogglePause)
	mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	mux.HandleFunc("POST /v1/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /v1/turns/{id}/prompt", s.handleTurnPrompt)
	mux.HandleFunc("GET /v1/journal/{id}", s.handleJournalEntry)
	mux.HandleFunc("GET /v1/thoughts", s.handleListThoughts)
	mux.HandleFunc("POST /v1/thoughts/{id}/dismiss", s.handleDismissThought)
	mux.HandleFunc("GET /v1/orientation/history", s.handleOrientationHistory)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("POST /v1/config", s.handlePostConfig)
	mux.HandleFunc("POST /v1/skills/events", s.handlePostSkillEvent)
	mux.HandleFunc("POST /v1/tools/approve", s.handleApproveTool)
	mux.HandleFunc("GET /v1/ws/events", s.handleWSEvents)

	return s.auth(mux)
}

// HTTPServer returns an http.Server bound per config.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("backend listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// auth enforces bearer authentication when required. Health stays open
// for liveness probes; WebSocket clients may carry the token as a query
// parameter since browsers cannot set headers on the upgrade request.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthMode == config.AuthDisabled || r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if s.bearerToken(r) != s.cfg.AuthToken || s.cfg.AuthToken == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			renderJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "missing or invalid token"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Approved reports whether the operator approved a tool this session.
func (s *Server) Approved(tool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.approved[tool]
}
