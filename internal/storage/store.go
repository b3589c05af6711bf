package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/trail/internal/history"
)

// Store defines the interface for visit persistence and its secondary
// orderings.
type Store interface {
	Insert(ctx context.Context, v history.Visit) (history.VisitID, error)
	Get(ctx context.Context, id history.VisitID) (*history.Visit, error)
	Delete(ctx context.Context, id history.VisitID) (bool, error)
	UpdateDuration(ctx context.Context, id history.VisitID, seconds int64) error
	DeleteOlderThan(ctx context.Context, before int64) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	CountOlderThan(ctx context.Context, before int64) (int64, error)
	Count(ctx context.Context) (int64, error)
	CountForURL(ctx context.Context, url string) (int64, error)
	Scan(ctx context.Context, f Filter) ([]history.Visit, error)
	VisitsForURL(ctx context.Context, url string) ([]history.Visit, error)
	ForEachPageRow(ctx context.Context, fn func(PageRow) error) error
	Stats(ctx context.Context) (*history.Stats, error)
	AuditLog(ctx context.Context, limit int) ([]AuditEntry, error)
	RebuildIndexes(ctx context.Context) (int64, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database. Writes are
// serialized by mu; each one is a single statement or transaction, so
// readers on other pooled connections see either all of it or none of it.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex

	now   func() time.Time
	audit bool

	// Prepared statements
	insertVisit    *sql.Stmt
	getVisit       *sql.Stmt
	deleteVisit    *sql.Stmt
	updateDuration *sql.Stmt
	countForURL    *sql.Stmt
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithAuditLog records retention operations in the audit_log table, inside
// the same transaction as the deletion.
func WithAuditLog(enabled bool) Option {
	return func(s *SQLiteStore) { s.audit = enabled }
}

// WithClock overrides the time source used for created_at and audit rows.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

const visitColumns = `id, url, title, visit_time, visit_duration, from_url, transition`

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertVisit, err = s.db.Prepare(`
		INSERT INTO visits (id, url, url_fold, host, title, title_fold,
		                    visit_time, visit_duration, from_url, transition, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getVisit, err = s.db.Prepare(`SELECT ` + visitColumns + ` FROM visits WHERE id = ?`)
	if err != nil {
		return err
	}

	s.deleteVisit, err = s.db.Prepare(`DELETE FROM visits WHERE id = ?`)
	if err != nil {
		return err
	}

	s.updateDuration, err = s.db.Prepare(`UPDATE visits SET visit_duration = ? WHERE id = ?`)
	if err != nil {
		return err
	}

	s.countForURL, err = s.db.Prepare(`SELECT COUNT(*) FROM visits WHERE url = ?`)
	if err != nil {
		return err
	}

	return nil
}

func storageErr(op string, err error) error {
	return &history.StorageError{Op: op, Err: err}
}

func notFound(id history.VisitID) error {
	return fmt.Errorf("visit %s: %w", id, history.ErrNotFound)
}

// Insert assigns a fresh UUIDv7 id and appends the visit. The id column is
// UNIQUE, so a collision fails loudly instead of overwriting.
func (s *SQLiteStore) Insert(ctx context.Context, v history.Visit) (history.VisitID, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return "", storageErr("generate id", err)
	}
	id := history.VisitID(uid.String())

	var duration sql.NullInt64
	if v.Duration != nil {
		duration = sql.NullInt64{Int64: *v.Duration, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.insertVisit.ExecContext(ctx,
		string(id), v.URL, Fold(v.URL), extractHost(v.URL), v.Title, Fold(v.Title),
		v.VisitTime, duration, v.FromURL, string(v.Transition), s.now().Unix(),
	)
	if err != nil {
		return "", storageErr("insert visit", err)
	}
	return id, nil
}

// Get retrieves a single visit by id.
func (s *SQLiteStore) Get(ctx context.Context, id history.VisitID) (*history.Visit, error) {
	v, err := scanVisit(s.getVisit.QueryRowContext(ctx, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, storageErr("get visit", err)
	}
	return v, nil
}

// Delete removes a visit by id and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, id history.VisitID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.deleteVisit.ExecContext(ctx, string(id))
	if err != nil {
		return false, storageErr("delete visit", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("delete visit", err)
	}
	return n > 0, nil
}

// UpdateDuration sets visit_duration, the only field that may change after
// insert. Later calls overwrite earlier ones.
func (s *SQLiteStore) UpdateDuration(ctx context.Context, id history.VisitID, seconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.updateDuration.ExecContext(ctx, seconds, string(id))
	if err != nil {
		return storageErr("update duration", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("update duration", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// DeleteOlderThan removes every visit with visit_time < before in a single
// transaction and returns how many were removed.
//
// Per-row deletes touch every index on visits. When more than half the rows
// go, the survivors are copied aside and the table is truncated instead, so
// the row work is bounded by whichever side is smaller.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin clear", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var total, n int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(visit_time < ?), 0) FROM visits`, before,
	).Scan(&total, &n); err != nil {
		return 0, storageErr("clear older than", err)
	}

	switch {
	case n == 0:
	case n*2 > total:
		if err := keepOnly(ctx, tx, before); err != nil {
			return 0, storageErr("clear older than", err)
		}
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM visits WHERE visit_time < ?`, before); err != nil {
			return 0, storageErr("clear older than", err)
		}
	}

	if err := s.recordAudit(ctx, tx, AuditClearOlderThan, fmt.Sprintf("visit_time < %d", before), n); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit clear", err)
	}
	return n, nil
}

// keepOnly rewrites visits to hold just the rows with visit_time >= before.
// seq values are carried over so insertion order survives.
func keepOnly(ctx context.Context, tx *sql.Tx, before int64) error {
	stmts := []struct {
		sql  string
		args []any
	}{
		{`DROP TABLE IF EXISTS temp.visits_keep`, nil},
		{`CREATE TEMP TABLE visits_keep AS
			SELECT * FROM main.visits WHERE visit_time >= ? ORDER BY seq`, []any{before}},
		{`DELETE FROM main.visits`, nil},
		{`INSERT INTO main.visits SELECT * FROM temp.visits_keep ORDER BY seq`, nil},
		{`DROP TABLE temp.visits_keep`, nil},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.sql, st.args...); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll removes every visit in a single transaction.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin clear", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Counted up front: the unconditional DELETE takes SQLite's truncate
	// path.
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`).Scan(&n); err != nil {
		return 0, storageErr("clear all", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM visits`); err != nil {
		return 0, storageErr("clear all", err)
	}

	if err := s.recordAudit(ctx, tx, AuditClearAll, "", n); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit clear", err)
	}
	return n, nil
}

func (s *SQLiteStore) recordAudit(ctx context.Context, tx *sql.Tx, action, detail string, removed int64) error {
	if !s.audit {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (action, detail, removed, ts) VALUES (?, ?, ?, ?)`,
		action, detail, removed, s.now().Unix(),
	)
	if err != nil {
		return storageErr("audit "+action, err)
	}
	return nil
}

// CountOlderThan counts the visits DeleteOlderThan would remove.
func (s *SQLiteStore) CountOlderThan(ctx context.Context, before int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE visit_time < ?`, before).Scan(&n)
	if err != nil {
		return 0, storageErr("count older than", err)
	}
	return n, nil
}

// Count returns the number of stored visits.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits`).Scan(&n); err != nil {
		return 0, storageErr("count visits", err)
	}
	return n, nil
}

// CountForURL returns the number of visits to exactly url.
func (s *SQLiteStore) CountForURL(ctx context.Context, url string) (int64, error) {
	var n int64
	if err := s.countForURL.QueryRowContext(ctx, url).Scan(&n); err != nil {
		return 0, storageErr("count visits for url", err)
	}
	return n, nil
}

// Stats returns aggregate statistics about the database.
func (s *SQLiteStore) Stats(ctx context.Context) (*history.Stats, error) {
	stats := &history.Stats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT url), COALESCE(MIN(visit_time), 0), COALESCE(MAX(visit_time), 0) FROM visits`,
	).Scan(&stats.TotalVisits, &stats.DistinctURLs, &stats.OldestVisit, &stats.NewestVisit)
	if err != nil {
		return nil, storageErr("stats", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT host, COUNT(*) AS cnt FROM visits GROUP BY host ORDER BY cnt DESC, host ASC LIMIT 10`,
	)
	if err != nil {
		return nil, storageErr("top hosts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hc history.HostCount
		if err := rows.Scan(&hc.Host, &hc.Count); err != nil {
			return nil, storageErr("scan top hosts", err)
		}
		stats.TopHosts = append(stats.TopHosts, hc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("top hosts", err)
	}

	return stats, nil
}

// AuditLog returns the most recent retention operations, newest first.
func (s *SQLiteStore) AuditLog(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, detail, removed, ts FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storageErr("audit log", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Detail, &e.Removed, &e.TS); err != nil {
			return nil, storageErr("scan audit log", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("audit log", err)
	}
	return entries, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertVisit, s.getVisit, s.deleteVisit,
		s.updateDuration, s.countForURL,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (*history.Visit, error) {
	var v history.Visit
	var id, transition string
	var duration sql.NullInt64

	if err := row.Scan(&id, &v.URL, &v.Title, &v.VisitTime, &duration, &v.FromURL, &transition); err != nil {
		return nil, err
	}
	v.ID = history.VisitID(id)
	v.Transition = history.Transition(transition)
	if duration.Valid {
		d := duration.Int64
		v.Duration = &d
	}
	return &v, nil
}
