// Package api serves the gatekeeper HTTP interface: webhook ingress, job
// and analysis triggers, stored results, and per-repository event streams.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"gatekeeper/internal/config"
	"gatekeeper/internal/events"
	"gatekeeper/internal/jobs"
	"gatekeeper/internal/orchestrator"
	"gatekeeper/internal/slogutil"
	"gatekeeper/internal/store"
	"gatekeeper/internal/webhooks"
)

// defaultHeartbeat is the SSE keep-alive interval.
const defaultHeartbeat = 15 * time.Second

// Deps are the collaborators of a Server.
type Deps struct {
	Config       *config.Config
	Queue        jobs.Queue
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	// Receiver defaults to one built from Config.Webhook.Secret and Queue.
	Receiver *webhooks.Receiver
}

// Server represents the HTTP API server
type Server struct {
	router    chi.Router
	server    *http.Server
	cfg       *config.Config
	queue     jobs.Queue
	store     store.Store
	orch      *orchestrator.Orchestrator
	bus       *events.Bus
	receiver  *webhooks.Receiver
	logger    *slog.Logger
	started   time.Time
	heartbeat time.Duration
}

// NewServer creates a new HTTP server instance
func NewServer(deps Deps, logger *slog.Logger) *Server {
	logger = slogutil.OrDiscard(logger)
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		queue:     deps.Queue,
		store:     deps.Store,
		orch:      deps.Orchestrator,
		bus:       deps.Bus,
		receiver:  deps.Receiver,
		logger:    logger,
		started:   time.Now(),
		heartbeat: defaultHeartbeat,
	}
	if s.receiver == nil {
		s.receiver = webhooks.NewReceiver(cfg.Webhook.Secret, deps.Queue, logger)
	}

	s.router.Use(CORSMiddleware(), RequestIDMiddleware(), LoggingMiddleware(logger), RecoveryMiddleware(logger))
	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
