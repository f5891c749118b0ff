package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/foxzi/reviewdesk/internal/api"
	"github.com/foxzi/reviewdesk/internal/campaign"
	"github.com/foxzi/reviewdesk/internal/caption"
	"github.com/foxzi/reviewdesk/internal/config"
	"github.com/foxzi/reviewdesk/internal/events"
	"github.com/foxzi/reviewdesk/internal/gateway"
	"github.com/foxzi/reviewdesk/internal/journal"
	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/reconcile"
	"github.com/foxzi/reviewdesk/internal/session"
	"github.com/foxzi/reviewdesk/internal/storage"
	"github.com/foxzi/reviewdesk/internal/store"
)

// App is the main application
type App struct {
	config     *config.Config
	storage    *storage.Storage
	journal    *journal.Journal
	store      *store.Store
	controller *reconcile.Controller
	refresher  *reconcile.Refresher
	sessions   *session.Manager
	publisher  *events.Publisher
	apiServer  *api.Server
	collector  *metrics.Collector
	metrics    *metrics.Server
	logger     *slog.Logger

	unsubscribe func()
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := NewLogger(cfg.Logging)

	st, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	a := &App{
		config:  cfg,
		storage: st,
		journal: jr,
		store:   store.New(),
		logger:  logger,
	}

	// Serve the last known campaigns until the first refresh lands
	snap, err := st.LoadSnapshot()
	if err != nil {
		logger.Warn("ignoring unreadable snapshot", "error", err)
	} else if snap != nil {
		a.store.Replace(snap.Campaigns, snap.Designers)
		logger.Info("store seeded from snapshot", "campaigns", len(snap.Campaigns), "saved_at", snap.SavedAt)
	}

	gw := NewGateway(cfg.Gateway)

	a.controller = reconcile.New(gw, a.store, jr, st, ControllerOptions(cfg), logger)
	a.refresher = reconcile.NewRefresher(a.controller, cfg.Reconcile.RefreshInterval, logger)

	validator := session.NewValidator(gw, cfg.Auth.TrustSingleRecord, logger)
	a.sessions = session.NewManager(validator, gw, st, cfg.Auth.SessionTTL, logger)

	if cfg.EventsEnabled() {
		a.publisher, err = events.Dial(cfg.Events.AMQPURL, cfg.Events.Exchange, cfg.Events.Buffer, logger)
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("failed to connect event broker: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		a.collector, err = metrics.NewCollector(st.DB(), m, a.store, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			a.closeStores()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metrics = metrics.NewServer(m, metrics.Options{
			Addr:       cfg.Metrics.ListenAddr,
			Path:       cfg.Metrics.Path,
			AllowedIPs: cfg.Metrics.AllowedIPs,
			TrustProxy: cfg.Metrics.TrustProxy,
		}, logger)
	}

	a.apiServer = api.NewServer(a.controller, a.sessions, caption.New(gw, logger), jr, api.Options{
		ListenAddr:     cfg.Server.ListenAddr,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Version:        version,
	}, logger)

	return a, nil
}

// NewGateway builds the webhook client from configuration
func NewGateway(cfg config.GatewayConfig) *gateway.Client {
	return gateway.NewClient(gateway.Options{
		FetchURL:     cfg.FetchURL,
		CommandURL:   cfg.CommandURL,
		UploadURL:    cfg.UploadURL,
		Token:        cfg.Token,
		Timeout:      cfg.Timeout,
		FetchTimeout: cfg.FetchTimeout,
	})
}

// ControllerOptions maps the reconcile section onto controller options
func ControllerOptions(cfg *config.Config) reconcile.Options {
	opts := reconcile.Options{
		PollInterval:          cfg.Reconcile.PollInterval,
		PollAttempts:          cfg.Reconcile.PollAttempts,
		ConflictPolicy:        reconcile.ConflictPolicy(cfg.Reconcile.ConflictPolicy),
		MaxUnmatchedRefreshes: cfg.Reconcile.MaxUnmatchedRefreshes,
		RefreshTimeout:        cfg.Reconcile.RefreshTimeout,
		DesignerPassword:      cfg.Auth.DesignerPassword,
	}
	for _, d := range cfg.Designers {
		opts.FallbackDesigners = append(opts.FallbackDesigners, campaign.Designer{
			ID:    d.ID,
			Name:  d.Name,
			Email: d.Email,
		})
	}
	return opts
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting reviewdesk",
		"api_addr", a.config.Server.ListenAddr,
		"fetch_url", a.config.Gateway.FetchURL,
		"events", a.publisher != nil,
		"metrics", a.metrics != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if n, err := a.sessions.Restore(); err != nil {
		a.logger.Warn("failed to restore sessions", "error", err)
	} else if n > 0 {
		a.logger.Info("sessions restored", "count", n)
	}

	if a.publisher != nil {
		a.publisher.Start()
		a.unsubscribe = a.controller.Subscribe(a.publisher.Handle)
	}

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Reads are served from the snapshot until this lands
	go func() {
		rctx, rcancel := context.WithTimeout(ctx, a.config.Reconcile.RefreshTimeout)
		defer rcancel()
		if err := a.controller.Refresh(rctx); err != nil {
			a.logger.Warn("initial refresh failed", "error", err)
		}
	}()
	a.refresher.Start()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metrics != nil {
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking requests before the controller goes away
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.refresher.Stop()
	a.controller.Close()

	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}

	if a.metrics != nil {
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	a.closeStores()

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeStores() {
	if err := a.journal.Close(); err != nil {
		a.logger.Error("journal close error", "error", err)
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
