package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite, for builds without cgo.
	DriverPure = "sqlite"
)

// OpenOptions selects the driver and file backing a store.
type OpenOptions struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open creates the database directory if needed, opens the SQLite file with
// the per-connection pragmas the store expects, and applies migrations.
// The caller owns the returned *sql.DB and must close it.
func Open(opts OpenOptions) (*sql.DB, error) {
	if opts.Driver == "" {
		opts.Driver = DriverCGO
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	runner := NewMigrationRunner(db)
	if err := runner.Run(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// buildDSN encodes the connection pragmas in each driver's own syntax so that
// every pooled connection gets them, not just the first.
func buildDSN(opts OpenOptions) (string, error) {
	ms := opts.BusyTimeout.Milliseconds()
	switch opts.Driver {
	case DriverCGO:
		return fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
			opts.Path, ms), nil
	case DriverPure:
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			opts.Path, ms), nil
	default:
		return "", fmt.Errorf("unknown sqlite driver %q (use %q or %q)", opts.Driver, DriverCGO, DriverPure)
	}
}

// DatabaseSize returns the logical size of the database in bytes from
// SQLite's page accounting, which includes pages still in the WAL. If that
// fails it falls back to the size of the file at path.
func DatabaseSize(db *sql.DB, path string) int64 {
	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			return pageCount * pageSize
		}
	}

	if info, err := os.Stat(path); err == nil {
		return info.Size()
	}
	return 0
}
