// Package server is the HTTP and WebSocket surface over the handler
// service: a chi router for the REST operations plus a per-session feed
// endpoint speaking the streaming envelope protocol.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/handlers"
)

// RouterConfig carries everything NewRouter needs. Only Service is
// required; zero values fall back to production defaults.
type RouterConfig struct {
	// Service executes the operations behind every route.
	Service *handlers.Service

	// Feeds, when set, mounts the WebSocket endpoint at /ws/session/{id}.
	Feeds *Feeds

	// RateLimiter overrides the limiter built from RateLimit below.
	RateLimiter *IPRateLimiter

	RateLimit RateLimitConfig

	// AllowedOrigins feeds the CORS layer. Empty allows any origin.
	AllowedOrigins []string

	// Logger receives the per-request debug line. Leave
	// DisableRequestLogs false only when it is set.
	Logger zerolog.Logger

	DisableRequestLogs bool
}

// NewRouter builds the REST router. It opens no listeners and starts no
// goroutines, so tests can mount it on httptest directly.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	if !cfg.DisableRequestLogs {
		r.Use(requestLogger(cfg.Logger))
	}
	r.Use(middleware.Recoverer)

	// Rate limiting before CORS so over-budget clients are rejected cheaply.
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = NewIPRateLimiter(cfg.RateLimit)
	}
	r.Use(limiter.Middleware)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(metricsMiddleware)

	h := &routerHandlers{svc: cfg.Service}

	r.Route("/api", func(r chi.Router) {
		r.Post("/session", h.createSession)
		r.Route("/session/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.closeSession)
			r.Post("/move", h.move)
			r.Get("/bounds/{slot}", h.bounds)
			r.Post("/validate", h.validate)
			r.Post("/snap", h.snap)
			r.Post("/rotate", h.rotate)
			r.Post("/undo", h.undo)
			r.Post("/redo", h.redo)
			r.Put("/server", h.setServer)
		})

		r.Get("/formations", h.listFormations)
		r.Post("/formations", h.saveFormation)
		r.Get("/formations/{name}", h.getFormation)
		r.Delete("/formations/{name}", h.deleteFormation)

		r.Post("/share", h.exportShare)
		r.Get("/share/{code}", h.importShare)

		r.Get("/metrics/engine", h.engineMetrics)
	})

	r.Get("/healthz", h.healthz)

	if cfg.Feeds != nil {
		r.Get("/ws/session/{id}", cfg.Feeds.Handle)
	}

	return r
}

// requestLogger emits one debug line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("ip", ClientIP(r)).
				Msg("HTTP request")
		})
	}
}

// metricsMiddleware records latency and count per route pattern. The
// pattern is read after routing so the label set stays bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		recordRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
