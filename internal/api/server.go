// Package api provides the inbound HTTP surface of GrowthGovernor.
//
// It exposes the outreach queue and the daily quota tracker over JSON
// endpoints. Trigger endpoints sit behind the per-caller rate limiter.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
	"github.com/BTreeMap/GrowthGovernor/internal/ratelimit"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Server timeouts
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 120 * time.Second
)

// Config holds the dependencies and options of a Server.
type Config struct {
	Addr    string
	Tracker *quota.Tracker
	Queue   *outreach.Queue
	// RateLimit guards the trigger endpoints. A nil Limiter disables limiting.
	RateLimit ratelimit.Options
	// Webhook, when set, receives prospect replies on POST /webhooks/responses.
	Webhook http.HandlerFunc
	// Now replaces time.Now for date defaults.
	Now func() time.Time
}

// Server represents the HTTP server.
type Server struct {
	tracker *quota.Tracker
	queue   *outreach.Queue
	router  *chi.Mux
	server  *http.Server
	addr    string
	now     func() time.Time
}

// NewServer creates a server and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	// No RealIP: proxy headers only count for rate limiting when
	// RateLimit.TrustXForwardedFor is set.
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	s := &Server{
		tracker: cfg.Tracker,
		queue:   cfg.Queue,
		router:  r,
		addr:    cfg.Addr,
		now:     cfg.Now,
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.registerRoutes(cfg)
	return s
}

func (s *Server) registerRoutes(cfg Config) {
	limited := func(h http.Handler) http.Handler { return h }
	if cfg.RateLimit.Limiter != nil {
		limited = ratelimit.Middleware(cfg.RateLimit)
	}

	s.router.Get("/health", s.healthHandler)

	s.router.Route("/outreach", func(r chi.Router) {
		r.With(limited).Post("/", s.queueOutreachHandler)
		r.Get("/", s.listOutreachHandler)
		r.Get("/stats", s.outreachStatsHandler)
		r.Get("/stale", s.staleOutreachHandler)
		r.Get("/{id}", s.getOutreachHandler)
		r.Post("/{id}/sent", s.markSentHandler)
		r.Post("/{id}/responded", s.markRespondedHandler)
		r.Post("/{id}/failed", s.markFailedHandler)
		r.Post("/{id}/cancel", s.cancelOutreachHandler)
	})

	s.router.Route("/quota/{context}", func(r chi.Router) {
		r.Get("/", s.limitsSummaryHandler)
		r.Get("/{action}", s.checkLimitHandler)
		r.With(limited).Post("/{action}/increment", s.incrementHandler)
		r.With(limited).Post("/{action}/acquire", s.acquireHandler)
	})

	if cfg.Webhook != nil {
		s.router.With(limited).Post("/webhooks/responses", cfg.Webhook)
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address. It returns http.ErrServerClosed
// after Shutdown, including a Shutdown that ran before Start.
func (s *Server) Start() error {
	slog.Info("Server.Start: listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Server.Shutdown: shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}
