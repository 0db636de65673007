// Package api serves the bridge over HTTP: command execution, lifecycle
// transitions, external event arrival, the activity stream and the
// WebSocket endpoint for remote web views.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/pushbridge/internal/auth"
	"github.com/mattjoyce/pushbridge/internal/events"
	"github.com/mattjoyce/pushbridge/internal/protocol"
	"github.com/mattjoyce/pushbridge/internal/session"
)

// Bridge is the plugin instance driven by the HTTP surface.
type Bridge interface {
	Call(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
	Lifecycle(name string) error
	Notify(payload session.Payload) bool
	State() session.State
}

// Sockets is the WebSocket endpoint. It also fans external events out to
// connected web views.
type Sockets interface {
	http.Handler
	Broadcast(payload session.Payload) int
	Connections() int
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens      []auth.TokenConfig
	ExecTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	bridge    Bridge
	sockets   Sockets
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. sockets may be nil.
func New(config Config, b Bridge, sockets Sockets, hub *events.Hub, logger *slog.Logger) *Server {
	if config.ExecTimeout <= 0 {
		config.ExecTimeout = 30 * time.Second
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	return &Server{
		config:    config,
		bridge:    b,
		sockets:   sockets,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /events and /ws hold the connection open.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeBridgeRO)).Get("/state", s.handleState)
		r.With(s.requireScopes(auth.ScopeBridgeRW)).Post("/exec/{action}", s.handleExec)
		r.With(s.requireScopes(auth.ScopeBridgeRW)).Post("/lifecycle/{transition}", s.handleLifecycle)
		r.With(s.requireScopes(auth.ScopeBridgeRW)).Post("/notifications", s.handleNotification)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
		if s.sockets != nil {
			r.With(s.requireScopes(auth.ScopeBridgeRW)).Get("/ws", s.sockets.ServeHTTP)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
