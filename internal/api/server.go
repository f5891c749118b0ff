// Package api exposes the review workflow over HTTP: campaigns, actions,
// designers, sessions and a server-sent event stream of store changes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/reviewdesk/internal/caption"
	"github.com/foxzi/reviewdesk/internal/journal"
	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/reconcile"
	"github.com/foxzi/reviewdesk/internal/session"
)

// History lists finished reconciliations
type History interface {
	List(ctx context.Context, f journal.ListFilter) ([]journal.Entry, error)
}

// Options configures the HTTP server
type Options struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
	Version        string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	ctrl       *reconcile.Controller
	sessions   *session.Manager
	captions   *caption.Generator
	history    History
	opts       Options
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. history may be nil.
func NewServer(ctrl *reconcile.Controller, sessions *session.Manager, captions *caption.Generator, history History, opts Options, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}

	s := &Server{
		router:    chi.NewRouter(),
		ctrl:      ctrl,
		sessions:  sessions,
		captions:  captions,
		history:   history,
		opts:      opts,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/me", s.handleMe)
			r.Post("/auth/logout", s.handleLogout)
			r.Post("/auth/password", s.handleChangePassword)
			r.Put("/auth/preferences", s.handlePreferences)

			r.Get("/campaigns", s.handleListCampaigns)
			r.With(s.require(session.PermCreate)).Post("/campaigns", s.handleCreateCampaign)
			r.Get("/campaigns/{id}", s.handleGetCampaign)
			r.Post("/campaigns/{id}/actions", s.handleAction)
			r.Post("/campaigns/{id}/design", s.handleUploadDesign)
			r.Get("/campaigns/{id}/reconciliation", s.handleGetReconciliation)
			r.Delete("/campaigns/{id}/reconciliation", s.handleCancelReconciliation)
			r.Post("/campaigns/{id}/caption/generate", s.handleGenerateCaption)

			r.Get("/designers", s.handleListDesigners)
			r.With(s.require(session.PermManageDesigners)).Post("/designers", s.handleAddDesigner)

			r.Get("/reconciliations", s.handleListReconciliations)
			r.With(s.require(session.PermSync)).Post("/sync", s.handleSync)

			r.Get("/events", s.handleEvents)
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.opts.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
