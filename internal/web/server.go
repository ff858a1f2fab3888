// Package web provides the HTTP surface for the ingestion service: sync
// and import triggers, run log inspection, local search, and a validated
// read-only passthrough to the upstream API.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/lithodex/lithodex/internal/config"
	"github.com/lithodex/lithodex/internal/importer"
	"github.com/lithodex/lithodex/internal/store"
	syncer "github.com/lithodex/lithodex/internal/sync"
	"github.com/lithodex/lithodex/internal/upstream"
	"github.com/lithodex/lithodex/internal/web/middleware"
)

// Server is the HTTP server for the mineral ingestion service.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	orch     *syncer.Orchestrator
	importer *importer.Importer
	proxy    *upstream.Client
	progress *progressRegistry
	runs     *runLimiter
	router   *chi.Mux
	server   *http.Server
}

// NewServer wires the service components into a router.
func NewServer(cfg *config.Config, st *store.Store, orch *syncer.Orchestrator, imp *importer.Importer, proxy *upstream.Client) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		orch:     orch,
		importer: imp,
		proxy:    proxy,
		progress: newProgressRegistry(),
		runs:     newRunLimiter(maxConcurrentRuns),
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)
	s.router.Use(middleware.APIKeyAuth(&s.cfg.Security))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Sync runs
		r.Post("/sync/full", s.handleStartFullSync)
		r.Post("/sync/incremental", s.handleStartIncrementalSync)
		r.Post("/sync/minerals/{id}", s.handleResyncMineral)

		// Bulk import
		r.Post("/import", s.handleStartImport)
		r.Get("/import/{runID}/progress", s.handleImportProgress)

		// Run logs
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)

		// Local store reads for the presentation layer
		r.Get("/minerals", s.handleSearchMinerals)
		r.Get("/minerals/{id}", s.handleGetMineral)
		r.Get("/crystal-systems/{classID}", s.handleCrystalSystem)

		// Validated passthrough to the upstream API
		r.Get("/proxy/*", s.handleProxy)

		// Destructive catalog reset for operators
		r.Post("/admin/reset", s.handleAdminReset)
	})
}

// securityHeaders sets conservative response headers on every route.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until Shutdown is called.
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

// Shutdown gracefully stops the server, then waits for background ingestion
// runs to drain so they can finalize their run logs.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.runs.waitForDrain(ctx)
}

// Router exposes the mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
