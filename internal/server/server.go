// internal/server/server.go
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/internal/dispatcher"
	"github.com/courtkit/rotation/internal/handlers"
)

// Dependencies holds all dependencies needed by the server
type Dependencies struct {
	Service    *handlers.Service
	Dispatcher *dispatcher.Dispatcher
	Logger     zerolog.Logger
}

// Server owns the public HTTP listener and, when configured, the
// localhost debug listener carrying pprof and Prometheus.
type Server struct {
	deps        Dependencies
	cfg         config.ServerConfig
	httpServer  *http.Server
	debugServer *http.Server
	feeds       *Feeds
}

// New assembles the router and feed handler. Nothing starts listening
// until Start.
func New(deps Dependencies, cfg config.ServerConfig) *Server {
	feeds := NewFeeds(deps.Service, deps.Dispatcher, cfg.AllowedOrigins, deps.Logger)
	router := NewRouter(RouterConfig{
		Service: deps.Service,
		Feeds:   feeds,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         deps.Logger,
	})
	return &Server{
		deps:  deps,
		cfg:   cfg,
		feeds: feeds,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: router,
		},
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving the public listener until Shutdown. The debug
// listener, when enabled, runs on its own goroutine.
func (s *Server) Start() error {
	if s.cfg.DebugAddr != "" {
		s.debugServer = StartDebugServer(s.cfg.DebugAddr, s.deps.Logger)
	}
	s.deps.Logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains both listeners. The first error wins.
func (s *Server) Shutdown(ctx context.Context) error {
	var first error
	if s.debugServer != nil {
		if err := s.debugServer.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if err := s.httpServer.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	return first
}
