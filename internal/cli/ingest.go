package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/trail/internal/capture"
	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/logging"
	"github.com/runnerr0/trail/internal/metrics"
	"github.com/runnerr0/trail/internal/retention"
	"github.com/runnerr0/trail/internal/server"
)

// Execute implements the go-flags Commander interface for IngestCommand.
func (c *IngestCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, cfg)
}

// run serves the HTTP API and runs the retention pruner until ctx is done.
func (c *IngestCommand) run(ctx context.Context, cfg *config.Config) error {
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}

	logPath, err := cfg.LogPath()
	if err != nil {
		return fmt.Errorf("resolve log path: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   logPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	path, err := dbPath(c.globals, cfg)
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}

	m := metrics.NewCollector()
	eng, err := engine.New(engine.Options{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: cfg.BusyTimeout(),
		AuditLog:    cfg.Logging.AuditLog,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	policy, err := capture.NewPolicy(cfg.Capture)
	if err != nil {
		return fmt.Errorf("capture policy: %w", err)
	}

	srv := server.New(eng, policy, cfg.Daemon, server.Options{
		Logger:  logger.Named("http"),
		Metrics: m,
		Version: c.version,
	})

	logger.Info("trail daemon starting",
		zap.String("version", c.version),
		zap.String("addr", srv.Addr()),
		zap.String("db", path),
		zap.Int("retention_days", cfg.Retention.Days),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if !c.NoPrune {
		pruner := retention.NewPruner(eng.Retention(), cfg.RetentionMaxAge(), cfg.PruneInterval(),
			retention.OnPrune(func(removed int64) {
				m.AddDeleted(removed)
				if removed > 0 {
					logger.Info("retention prune", zap.Int64("removed", removed))
				}
			}),
		)
		g.Go(func() error {
			return pruner.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("trail daemon stopped", zap.Error(err))
		return err
	}
	logger.Info("trail daemon stopped")
	return nil
}
