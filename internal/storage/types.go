package storage

// Filter narrows a time-ordered scan of the visits table. Start and End are
// inclusive epoch-second bounds; nil means unbounded. Text is matched against
// the folded URL and title columns.
type Filter struct {
	Text   string
	Prefix bool
	Start  *int64
	End    *int64
	Limit  int
	Offset int
}

// PageRow is one visit as seen by the by-URL ordering: rows arrive grouped
// by URL, newest first within each URL.
type PageRow struct {
	URL       string
	Title     string
	VisitTime int64
}

// AuditEntry records one retention operation.
type AuditEntry struct {
	ID      int64
	Action  string
	Detail  string
	Removed int64
	TS      int64
}

// Audit actions.
const (
	AuditClearOlderThan = "clear_older_than"
	AuditClearAll       = "clear_all"
)
