package storage

import "database/sql"

// migrateV003 drops the folded URL and host indexes. Prefix search no longer
// relies on them, and every extra index slows bulk clears.
func migrateV003(tx *sql.Tx) error {
	for _, idx := range []string{"idx_visits_url_fold", "idx_visits_host"} {
		if _, err := tx.Exec(`DROP INDEX IF EXISTS ` + idx); err != nil {
			return err
		}
	}
	return nil
}
