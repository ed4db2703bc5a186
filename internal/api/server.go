// Package api serves the plugin transport and the admin HTTP API.
//
// Plugins post envelopes to /plugin/messages and read theirs from the SSE
// stream at /plugin/stream; both identify the plugin by its Origin header.
// Admin routes under /admin require a bearer token with the right scope.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/focus"
	"github.com/mattjoyce/switchboard/internal/protocol"
	"github.com/mattjoyce/switchboard/internal/state"
)

// Router is the part of the broker the API drives.
type Router interface {
	OnMessage(ctx context.Context, origin string, raw []byte)
	Broadcast(ctx context.Context, env *protocol.Envelope) int
	SetFocus(ctx context.Context, title string) focus.Transition
	Focused() string
	Codec() protocol.Codec
}

// MessageHistory reads the message audit log.
type MessageHistory interface {
	Recent(ctx context.Context, plugin string, limit int) ([]state.LoggedMessage, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the legacy single bearer token (admin/full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxMessageSize bounds inbound plugin envelopes.
	MaxMessageSize int64
}

// Deps are the components the server exposes. History, Hub and Gatherer
// may be nil.
type Deps struct {
	Router     Router
	Plugins    *Plugins
	Loop       *events.Loop
	Dispatcher events.Dispatcher
	Hub        *events.Hub
	History    MessageHistory
	Gatherer   prometheus.Gatherer
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	keys      *auth.Keyring
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

const defaultMaxMessageSize = 1 << 20

// New creates a new API server instance
func New(config Config, deps Deps, logger *slog.Logger) *Server {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	keys := auth.NewKeyring(config.APIKey, config.Tokens)
	if keys.Empty() {
		logger.Warn("no admin credentials configured; admin routes will reject every request")
	}
	return &Server{
		config:    config,
		keys:      keys,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: streams are long-lived.
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

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	// Plugins authenticate by origin inside the broker.
	r.Post("/plugin/messages", s.handlePluginMessage)
	r.Get("/plugin/stream", s.handlePluginStream)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(auth.ScopePluginsRO)).Get("/plugins", s.handleListPlugins)
		r.With(s.requireScopes(auth.ScopePluginsRW)).Post("/plugins", s.handleRegisterPlugin)
		r.With(s.requireScopes(auth.ScopePluginsRW)).Delete("/plugins/{title}", s.handleUnregisterPlugin)
		r.With(s.requireScopes(auth.ScopePluginsRO)).Get("/messages", s.handleListMessages)

		r.With(s.requireScopes(auth.ScopeEventsRW)).Post("/focus", s.handleFocus)
		r.With(s.requireScopes(auth.ScopeEventsRW)).Post("/broadcast", s.handleBroadcast)
		r.With(s.requireScopes(auth.ScopeEventsRW)).Post("/events", s.handleHostEvent)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
