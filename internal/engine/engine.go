// Package engine is the single entry point to browsing history: it records
// visits, answers queries and applies retention over one SQLite database
// that it opens and owns.
//
// An Engine is safe for concurrent use. Reads run in parallel; writes are
// serialized, and each one commits as a unit, so a reader sees either the
// whole write or none of it.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/trail/internal/history"
	"github.com/runnerr0/trail/internal/metrics"
	"github.com/runnerr0/trail/internal/query"
	"github.com/runnerr0/trail/internal/retention"
	"github.com/runnerr0/trail/internal/storage"
)

// Options configures New.
type Options struct {
	// Driver is storage.DriverCGO (default) or storage.DriverPure.
	Driver      string
	Path        string
	BusyTimeout time.Duration
	// AuditLog records bulk deletions in the audit_log table.
	AuditLog bool

	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Clock defaults to time.Now. It drives timestamp validation and
	// frecency ages.
	Clock func() time.Time
}

// Engine owns the database handle and every component built on it.
type Engine struct {
	db     *sql.DB
	path   string
	store  *storage.SQLiteStore
	query  *query.Engine
	retain *retention.Controller

	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// New opens (creating if needed) and migrates the database at opts.Path.
// The caller must Close the Engine.
func New(opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open engine: database path is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	db, err := storage.Open(storage.OpenOptions{
		Driver:      opts.Driver,
		Path:        opts.Path,
		BusyTimeout: opts.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	store, err := storage.NewSQLiteStore(db,
		storage.WithAuditLog(opts.AuditLog),
		storage.WithClock(opts.Clock),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open engine: %w", err)
	}

	e := &Engine{
		db:      db,
		path:    opts.Path,
		store:   store,
		query:   query.New(store, query.WithClock(opts.Clock)),
		retain:  retention.NewController(store, opts.Logger),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Clock,
	}

	e.logger.Debug("engine opened", zap.String("path", opts.Path), zap.String("driver", opts.Driver))
	return e, nil
}

// Close releases the store and closes the database. It is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.store.Close()
		e.closeErr = e.db.Close()
	})
	return e.closeErr
}

// Retention exposes the retention controller, for building a Pruner.
func (e *Engine) Retention() *retention.Controller {
	return e.retain
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// Path returns the database file path.
func (e *Engine) Path() string {
	return e.path
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.ObserveOperation(op, start, err)
}

// --- Writes ---

// RecordVisit validates v and stores it under a freshly assigned id. Any
// ID set on v is ignored. Retrying after a failure may store a second copy.
func (e *Engine) RecordVisit(ctx context.Context, v history.Visit) (id history.VisitID, err error) {
	start := time.Now()
	defer func() { e.observe("record_visit", start, err) }()

	valid, err := history.Validate(v, e.now())
	if err != nil {
		e.logger.Debug("visit rejected", zap.String("url", v.URL), zap.Error(err))
		return "", err
	}

	id, err = e.store.Insert(ctx, valid)
	if err != nil {
		e.logger.Error("record visit failed", zap.String("url", valid.URL), zap.Error(err))
		return "", err
	}

	e.metrics.AddRecorded(1)
	e.logger.Debug("visit recorded",
		zap.String("visit_id", string(id)),
		zap.String("url", valid.URL),
		zap.String("transition", string(valid.Transition)),
	)
	return id, nil
}

// UpdateVisitDuration sets how long the visit lasted. It fails with
// history.ErrNotFound if id does not exist.
func (e *Engine) UpdateVisitDuration(ctx context.Context, id history.VisitID, seconds int64) (err error) {
	start := time.Now()
	defer func() { e.observe("update_duration", start, err) }()

	if err := history.ValidateDuration(seconds); err != nil {
		return err
	}
	if err := e.store.UpdateDuration(ctx, id, seconds); err != nil {
		return err
	}

	e.logger.Debug("visit duration updated", zap.String("visit_id", string(id)), zap.Int64("seconds", seconds))
	return nil
}

// DeleteVisit removes one visit. It fails with history.ErrNotFound if id
// does not exist.
func (e *Engine) DeleteVisit(ctx context.Context, id history.VisitID) (err error) {
	start := time.Now()
	defer func() { e.observe("delete_visit", start, err) }()

	existed, err := e.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("delete visit %s: %w", id, history.ErrNotFound)
	}

	e.metrics.AddDeleted(1)
	e.logger.Info("visit deleted", zap.String("visit_id", string(id)))
	return nil
}

// ClearOlderThan removes every visit with visit_time < before, atomically.
func (e *Engine) ClearOlderThan(ctx context.Context, before int64) (n int64, err error) {
	start := time.Now()
	defer func() { e.observe("clear_older_than", start, err) }()

	n, err = e.retain.ClearOlderThan(ctx, before)
	if err != nil {
		return 0, err
	}
	e.metrics.AddDeleted(n)
	return n, nil
}

// ClearAll removes every visit, atomically, and reports how many there were.
func (e *Engine) ClearAll(ctx context.Context) (n int64, err error) {
	start := time.Now()
	defer func() { e.observe("clear_all", start, err) }()

	n, err = e.retain.ClearAll(ctx)
	if err != nil {
		return 0, err
	}
	e.metrics.AddDeleted(n)
	return n, nil
}

// PreviewOlderThan counts what ClearOlderThan(before) would remove.
func (e *Engine) PreviewOlderThan(ctx context.Context, before int64) (int64, error) {
	return e.retain.PreviewOlderThan(ctx, before)
}

// RebuildIndexes recomputes the derived search columns and rebuilds every
// index. It returns how many visits needed repair.
func (e *Engine) RebuildIndexes(ctx context.Context) (n int64, err error) {
	start := time.Now()
	defer func() { e.observe("rebuild_indexes", start, err) }()

	n, err = e.store.RebuildIndexes(ctx)
	if err != nil {
		e.logger.Error("rebuild indexes failed", zap.Error(err))
		return 0, err
	}
	e.logger.Info("indexes rebuilt", zap.Int64("repaired", n), zap.Duration("elapsed", time.Since(start)))
	return n, nil
}

// --- Reads ---

// GetVisit returns one visit, or history.ErrNotFound.
func (e *Engine) GetVisit(ctx context.Context, id history.VisitID) (v *history.Visit, err error) {
	start := time.Now()
	defer func() { e.observe("get_visit", start, err) }()

	return e.store.Get(ctx, id)
}

// Search returns visits matching q, newest first.
func (e *Engine) Search(ctx context.Context, q history.SearchQuery) (visits []history.Visit, err error) {
	start := time.Now()
	defer func() { e.observe("search", start, err) }()

	return e.query.Search(ctx, q)
}

// GetRecent returns the limit most recent visits.
func (e *Engine) GetRecent(ctx context.Context, limit int) (visits []history.Visit, err error) {
	start := time.Now()
	defer func() { e.observe("get_recent", start, err) }()

	return e.query.GetRecent(ctx, limit)
}

// GetVisitsForURL returns every visit to url, newest first.
func (e *Engine) GetVisitsForURL(ctx context.Context, url string) (visits []history.Visit, err error) {
	start := time.Now()
	defer func() { e.observe("get_visits_for_url", start, err) }()

	return e.query.GetVisitsForURL(ctx, url)
}

// GetMostVisited ranks pages by visit count.
func (e *Engine) GetMostVisited(ctx context.Context, limit int) (pages []history.PageAggregate, err error) {
	start := time.Now()
	defer func() { e.observe("get_most_visited", start, err) }()

	return e.query.GetMostVisited(ctx, limit)
}

// GetFrecent ranks pages by frecency.
func (e *Engine) GetFrecent(ctx context.Context, limit int) (pages []history.PageAggregate, err error) {
	start := time.Now()
	defer func() { e.observe("get_frecent", start, err) }()

	return e.query.GetFrecent(ctx, limit)
}

// CountVisits returns the number of stored visits.
func (e *Engine) CountVisits(ctx context.Context) (int64, error) {
	return e.store.Count(ctx)
}

// CountVisitsForURL returns the number of visits to exactly url.
func (e *Engine) CountVisitsForURL(ctx context.Context, url string) (int64, error) {
	normalized, err := history.ValidateURL(url)
	if err != nil {
		return 0, err
	}
	return e.store.CountForURL(ctx, normalized)
}

// Stats summarizes the database.
func (e *Engine) Stats(ctx context.Context) (*history.Stats, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.DatabaseSizeBytes = storage.DatabaseSize(e.db, e.path)
	return stats, nil
}

// AuditLog returns the most recent bulk deletions, newest first.
func (e *Engine) AuditLog(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	return e.store.AuditLog(ctx, limit)
}
