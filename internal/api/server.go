// Package api provides the HTTP surface of Heron.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/heron/internal/cohort"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/rules"
)

// Server is the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer wires the handler and routes. Health endpoints are open;
// everything else requires a tenant header.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, runner *pipeline.Runner, cohorts *cohort.Service, ruleEngine *rules.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, runner, cohorts, ruleEngine, version)

	router := chi.NewRouter()
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/transactions", handler.IngestTransaction)
		r.Post("/transactions/batch", handler.IngestBatch)
		r.Get("/transactions/{id}", handler.GetTransaction)

		r.Post("/runs", handler.StartRun)
		r.Get("/runs", handler.ListRuns)
		r.Get("/runs/{id}", handler.GetRun)
		r.Get("/runs/{id}/scores", handler.GetScores)
		r.Get("/runs/{id}/summary", handler.GetSummary)
		r.Get("/runs/{id}/export", handler.ExportScores)
		r.Get("/runs/{id}/report", handler.GetReport)

		r.Get("/cohorts", handler.GetCohorts)

		r.Get("/segment-rules", handler.ListSegmentRules)
		r.Post("/segment-rules", handler.CreateSegmentRule)
		r.Delete("/segment-rules/{id}", handler.DeleteSegmentRule)
	})

	return &Server{router: router, handler: handler, config: cfg}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the handler for tests.
func (s *Server) Handler() *Handler {
	return s.handler
}
