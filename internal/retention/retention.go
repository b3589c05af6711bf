// Package retention deletes visits in bulk, either by age or outright, and
// runs age-based pruning on a schedule.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Deleter is the part of the store retention needs. Each delete runs in a
// single transaction: it removes every matching visit or none of them.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, before int64) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	CountOlderThan(ctx context.Context, before int64) (int64, error)
}

// Controller performs bulk deletions.
type Controller struct {
	store  Deleter
	logger *zap.Logger
}

// NewController creates a Controller. A nil logger disables logging.
func NewController(store Deleter, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, logger: logger}
}

// ClearOlderThan removes every visit with visit_time < before and returns
// how many were removed. A visit at exactly before survives.
func (c *Controller) ClearOlderThan(ctx context.Context, before int64) (int64, error) {
	start := time.Now()
	n, err := c.store.DeleteOlderThan(ctx, before)
	if err != nil {
		c.logger.Error("clear older than failed", zap.Int64("before", before), zap.Error(err))
		return 0, err
	}
	c.logger.Info("cleared visits",
		zap.Int64("before", before),
		zap.Int64("count", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

// ClearAll removes every visit and returns how many were removed.
func (c *Controller) ClearAll(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := c.store.DeleteAll(ctx)
	if err != nil {
		c.logger.Error("clear all failed", zap.Error(err))
		return 0, err
	}
	c.logger.Info("cleared all visits",
		zap.Int64("count", n),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

// PreviewOlderThan reports how many visits ClearOlderThan(before) would
// remove, without removing them.
func (c *Controller) PreviewOlderThan(ctx context.Context, before int64) (int64, error) {
	return c.store.CountOlderThan(ctx, before)
}

// Cutoff returns the ClearOlderThan threshold for keeping maxAge of history.
func Cutoff(now time.Time, maxAge time.Duration) int64 {
	return now.Add(-maxAge).Unix()
}
