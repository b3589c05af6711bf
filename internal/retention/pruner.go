package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pruner keeps the store within a maximum age by calling ClearOlderThan once
// on start and then every Interval.
type Pruner struct {
	ctrl     *Controller
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	onPrune  func(removed int64)
}

// PrunerOption configures a Pruner.
type PrunerOption func(*Pruner)

// WithPrunerClock sets the time source used to compute the cutoff.
func WithPrunerClock(now func() time.Time) PrunerOption {
	return func(p *Pruner) { p.now = now }
}

// OnPrune registers a callback invoked after each successful pass.
func OnPrune(fn func(removed int64)) PrunerOption {
	return func(p *Pruner) { p.onPrune = fn }
}

// NewPruner creates a Pruner that removes visits older than maxAge every
// interval. A non-positive maxAge disables pruning.
func NewPruner(ctrl *Controller, maxAge, interval time.Duration, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		ctrl:     ctrl,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		logger:   ctrl.logger.Named("pruner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		p.interval = 24 * time.Hour
	}
	return p
}

// PruneOnce runs a single pass.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	n, err := p.ctrl.ClearOlderThan(ctx, Cutoff(p.now(), p.maxAge))
	if err != nil {
		return 0, err
	}
	if p.onPrune != nil {
		p.onPrune(n)
	}
	return n, nil
}

// Run prunes until ctx is cancelled. A failed pass is logged and retried at
// the next tick. Run returns nil on cancellation.
func (p *Pruner) Run(ctx context.Context) error {
	if p.maxAge <= 0 {
		p.logger.Info("retention disabled, pruner not started")
		return nil
	}

	p.logger.Info("pruner started",
		zap.Duration("max_age", p.maxAge),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("prune pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pruner stopped")
			return nil
		case <-ticker.C:
		}
	}
}
