// Package server exposes the report pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bireport/internal/config"
	"bireport/internal/core"
	"bireport/internal/delivery"
	"bireport/internal/logger"
	"bireport/internal/metrics"
	"bireport/internal/pipeline"
	"bireport/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Runner is the control surface of the orchestrator
type Runner interface {
	Start(ctx context.Context, sel core.SourceSelector, opts pipeline.Options) (string, error)
	Status() pipeline.StatusSnapshot
	LastResult() *core.PipelineResult
	Cancel() bool
	Reset() error
	ClearCache(ctx context.Context) error
	CacheStats() core.CacheStats
}

// SourceValidator checks a selector against the registered extractors
type SourceValidator interface {
	Validate(sel core.SourceSelector) error
}

// LatestReport returns the most recently delivered report
type LatestReport interface {
	Latest() (*delivery.Report, bool)
}

// ReportHistory lists delivered reports
type ReportHistory interface {
	ListReports(ctx context.Context, limit int) ([]store.ReportRecord, error)
}

// Dependencies are the collaborators the handlers use. Only Runner is
// required.
type Dependencies struct {
	Runner   Runner
	Sources  SourceValidator
	Reports  LatestReport
	History  ReportHistory
	Metrics  *metrics.Metrics
	Config   *config.Config
	Options  pipeline.Options
	Selector func() core.SourceSelector // Default sources for a trigger without a body
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Dependencies
	config     config.Server
	log        zerolog.Logger
	startedAt  time.Time
}

// New creates a new HTTP server instance
func New(deps Dependencies, cfg config.Server) (*Server, error) {
	if deps.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if deps.Selector == nil {
		deps.Selector = func() core.SourceSelector { return core.SourceSelector{} }
	}

	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		log:       logger.Component("server"),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
	s.router.Use(middleware.Timeout(config.Duration(s.config.RequestTimeout, 60*time.Second)))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Post("/trigger", s.handleTrigger)
		r.Get("/status", s.handleStatus)
		r.Post("/cancel", s.handleCancel)
		r.Post("/reset", s.handleReset)

		r.Get("/topics", s.handleTopics)
		r.Get("/topics/{id}", s.handleTopic)
		r.Get("/report", s.handleReport)
		r.Get("/report/download", s.handleReportDownload)
		r.Get("/reports", s.handleListReports)

		r.Get("/cache", s.handleCacheStats)
		r.Post("/clear-cache", s.handleClearCache)
		r.Get("/config", s.handleConfig)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server gracefully")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info().Msg("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
