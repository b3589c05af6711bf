package storage

import "database/sql"

// migrateV001 creates the visits table and the secondary orderings the
// query engine relies on. Every statement uses IF NOT EXISTS for
// idempotency.
//
// seq is the insertion order and breaks ties between visits recorded in the
// same second; AUTOINCREMENT keeps it from being reused after deletes. id is
// the public identifier. url_fold and title_fold are lower-cased shadows of
// url and title for case-insensitive matching; host is derived from url.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS visits (
			seq            INTEGER PRIMARY KEY AUTOINCREMENT,
			id             TEXT    NOT NULL UNIQUE,
			url            TEXT    NOT NULL CHECK (url <> ''),
			url_fold       TEXT    NOT NULL,
			host           TEXT    NOT NULL DEFAULT '',
			title          TEXT    NOT NULL DEFAULT '',
			title_fold     TEXT    NOT NULL DEFAULT '',
			visit_time     INTEGER NOT NULL CHECK (visit_time >= 0),
			visit_duration INTEGER CHECK (visit_duration IS NULL OR visit_duration >= 0),
			from_url       TEXT    NOT NULL DEFAULT '',
			transition     TEXT    NOT NULL CHECK (transition IN
				('link', 'typed', 'reload', 'bookmark', 'redirect', 'form_submit')),
			created_at     INTEGER NOT NULL
		)`,

		// By URL: per-page visit lists and aggregates without a full scan.
		`CREATE INDEX IF NOT EXISTS idx_visits_url_time ON visits(url, visit_time DESC, seq DESC)`,
		// By time: recent, range queries and age-based clears.
		`CREATE INDEX IF NOT EXISTS idx_visits_time     ON visits(visit_time DESC, seq DESC)`,
		// By title.
		`CREATE INDEX IF NOT EXISTS idx_visits_title    ON visits(title_fold)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
