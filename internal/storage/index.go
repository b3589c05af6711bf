package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/runnerr0/trail/internal/history"
)

// maxRune terminates the half-open range used for prefix lookups: every
// string starting with p sorts between p and p+maxRune under BINARY
// collation.
const maxRune = "\U0010FFFF"

// Fold is the case folding applied to the url_fold and title_fold columns
// and to search text. SQLite's own lower() only folds ASCII.
func Fold(s string) string {
	return strings.ToLower(s)
}

// extractHost pulls the lower-cased hostname from a URL string.
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Scan returns visits matching f, newest first. Visits recorded in the same
// second come back in reverse insertion order. A Limit of zero means no
// limit.
func (s *SQLiteStore) Scan(ctx context.Context, f Filter) ([]history.Visit, error) {
	var clauses []string
	var args []any

	if f.Start != nil {
		clauses = append(clauses, "visit_time >= ?")
		args = append(args, *f.Start)
	}
	if f.End != nil {
		clauses = append(clauses, "visit_time <= ?")
		args = append(args, *f.End)
	}
	if f.Text != "" {
		needle := Fold(f.Text)
		if f.Prefix {
			hi := needle + maxRune
			clauses = append(clauses, `((title_fold >= ? AND title_fold < ?)
				OR (url_fold >= ? AND url_fold < ?)
				OR (host >= ? AND host < ?))`)
			args = append(args, needle, hi, needle, hi, needle, hi)
		} else {
			clauses = append(clauses, "(instr(url_fold, ?) > 0 OR instr(title_fold, ?) > 0)")
			args = append(args, needle, needle)
		}
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + visitColumns + ` FROM visits` + where +
		` ORDER BY visit_time DESC, seq DESC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	return s.queryVisits(ctx, "scan visits", query, args...)
}

// VisitsForURL returns every visit to exactly pageURL, newest first.
func (s *SQLiteStore) VisitsForURL(ctx context.Context, pageURL string) ([]history.Visit, error) {
	return s.queryVisits(ctx, "visits for url",
		`SELECT `+visitColumns+` FROM visits WHERE url = ? ORDER BY visit_time DESC, seq DESC`, pageURL)
}

// ForEachPageRow streams every visit through fn grouped by URL (ascending),
// newest first within a URL. The whole pass is one statement and therefore
// one consistent snapshot. fn must not write to the store.
func (s *SQLiteStore) ForEachPageRow(ctx context.Context, fn func(PageRow) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, title, visit_time FROM visits ORDER BY url ASC, visit_time DESC, seq DESC`)
	if err != nil {
		return storageErr("scan pages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r PageRow
		if err := rows.Scan(&r.URL, &r.Title, &r.VisitTime); err != nil {
			return storageErr("scan pages", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr("scan pages", err)
	}
	return nil
}

// RebuildIndexes recomputes the derived columns from url and title and
// rebuilds every index on the visits table. It returns how many rows had
// stale derived columns.
func (s *SQLiteStore) RebuildIndexes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin rebuild", err)
	}
	defer tx.Rollback() //nolint:errcheck

	type derived struct {
		seq       int64
		urlFold   string
		titleFold string
		host      string
	}

	rows, err := tx.QueryContext(ctx, `SELECT seq, url, title, url_fold, title_fold, host FROM visits`)
	if err != nil {
		return 0, storageErr("rebuild scan", err)
	}
	var stale []derived
	for rows.Next() {
		var seq int64
		var u, title, urlFold, titleFold, host string
		if err := rows.Scan(&seq, &u, &title, &urlFold, &titleFold, &host); err != nil {
			rows.Close()
			return 0, storageErr("rebuild scan", err)
		}
		want := derived{seq: seq, urlFold: Fold(u), titleFold: Fold(title), host: extractHost(u)}
		if want.urlFold != urlFold || want.titleFold != titleFold || want.host != host {
			stale = append(stale, want)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storageErr("rebuild scan", err)
	}

	for _, d := range stale {
		if _, err := tx.ExecContext(ctx,
			`UPDATE visits SET url_fold = ?, title_fold = ?, host = ? WHERE seq = ?`,
			d.urlFold, d.titleFold, d.host, d.seq,
		); err != nil {
			return 0, storageErr("rebuild update", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `REINDEX visits`); err != nil {
		return 0, storageErr("reindex", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit rebuild", err)
	}
	return int64(len(stale)), nil
}

// queryVisits executes a query and scans results into a Visit slice.
func (s *SQLiteStore) queryVisits(ctx context.Context, op, query string, args ...any) ([]history.Visit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	visits := []history.Visit{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, storageErr(op, fmt.Errorf("scan visit: %w", err))
		}
		visits = append(visits, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return visits, nil
}
