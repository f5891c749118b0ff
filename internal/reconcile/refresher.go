package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher keeps the store current between user actions
type Refresher struct {
	ctrl     *Controller
	logger   *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a refresher. A zero interval disables the loop.
func NewRefresher(ctrl *Controller, interval time.Duration, logger *slog.Logger) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Refresher{
		ctrl:     ctrl,
		logger:   logger.With("component", "refresher"),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the refresh loop
func (r *Refresher) Start() {
	if r.interval <= 0 {
		r.logger.Info("periodic refresh disabled")
		return
	}
	r.wg.Add(1)
	go r.run()
	r.logger.Info("refresher started", "interval", r.interval)
}

// Stop stops the loop and waits for a running refresh to return
func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("refresher stopped")
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Refresher) tick() {
	ctx, cancel := context.WithTimeout(r.ctx, r.ctrl.opts.RefreshTimeout)
	defer cancel()

	if err := r.ctrl.Refresh(ctx); err != nil {
		r.logger.Debug("periodic refresh failed", "error", err)
	}
}
