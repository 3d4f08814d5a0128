// Package web provides the HTTP server for the spreadsheet ingestion
// service: the upload endpoint, the static upload form, and the
// operational endpoints (history, health, metrics).
package web

import (
	"context"
	"embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/ingest"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

//go:embed static
var staticFiles embed.FS

// Store is the slice of the persistence layer the handlers need directly.
// Bulk inserts go through the pipeline, not through here.
type Store interface {
	RecentRuns(ctx context.Context, limit int) ([]ingest.RunRecord, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the ingestion service.
type Server struct {
	cfg      *config.Config
	pipeline *ingest.Pipeline
	limiter  *ingest.Limiter
	store    Store
	gatherer prometheus.Gatherer
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the router, middleware, and routes.
func NewServer(cfg *config.Config, pipeline *ingest.Pipeline, limiter *ingest.Limiter, store Store, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		limiter:  limiter,
		store:    store,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Post("/upload", s.handleUpload)

	s.router.Get("/api/history", s.handleHistory)
	s.router.Get("/healthz", s.handleHealth)

	if s.gatherer != nil {
		s.router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Start begins listening for HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// requestLogger logs one line per request with the request ID attached.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
