package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	DBPath  string `long:"db-path" description:"Override the database file path"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

func (g *GlobalFlags) wantJSON() bool {
	return g != nil && g.JSON
}

// StatusCommand: show database stats, daemon health and config summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SearchCommand: search visits by URL or title text with a time window.
type SearchCommand struct {
	Since  string `long:"since" description:"Only visits newer than duration (e.g., 7d, 24h, 2w)"`
	Until  string `long:"until" description:"Only visits older than duration"`
	Prefix bool   `long:"prefix" description:"Match the start of the URL, title or host instead of any substring"`
	Limit  int    `long:"limit" description:"Maximum results" default:"20"`
	Offset int    `long:"offset" description:"Skip first N results" default:"0"`

	globals *GlobalFlags
	version string
}

// RecentCommand: list the most recent visits.
type RecentCommand struct {
	Limit int `long:"limit" description:"Maximum results" default:"20"`

	globals *GlobalFlags
	version string
}

// TopCommand: rank pages by visit count.
type TopCommand struct {
	Limit int `long:"limit" description:"Maximum pages" default:"10"`

	globals *GlobalFlags
	version string
}

// FrecentCommand: rank pages by frecency.
type FrecentCommand struct {
	Limit int `long:"limit" description:"Maximum pages" default:"10"`

	globals *GlobalFlags
	version string
}

// VisitsCommand: list every visit to one URL.
type VisitsCommand struct {
	URL string `long:"url" description:"Exact page URL (required)"`

	globals *GlobalFlags
	version string
}

// OpenCommand: print a single stored visit.
type OpenCommand struct {
	ID     string `long:"id" description:"Visit ID (required)"`
	Format string `long:"format" description:"Output format" choice:"full" choice:"url" choice:"title" choice:"json" default:"full"`

	globals *GlobalFlags
	version string
}

// AddCommand: manually record a visit.
type AddCommand struct {
	URL        string `long:"url" description:"URL to record (required)"`
	Title      string `long:"title" description:"Page title"`
	At         string `long:"at" description:"Visit time as RFC 3339 (default: now)"`
	Duration   int64  `long:"duration" description:"Seconds spent on the page (-1 if unknown)" default:"-1"`
	From       string `long:"from" description:"Referring URL"`
	Transition string `long:"transition" description:"How the visit started" choice:"link" choice:"typed" choice:"bookmark" choice:"reload" choice:"redirect" choice:"form_submit" default:"typed"`

	globals *GlobalFlags
	version string
}

// DurationCommand: set how long a visit lasted.
type DurationCommand struct {
	ID      string `long:"id" description:"Visit ID (required)"`
	Seconds int64  `long:"seconds" description:"Seconds spent on the page" default:"-1"`

	globals *GlobalFlags
	version string
}

// DeleteCommand: remove one visit.
type DeleteCommand struct {
	ID string `long:"id" description:"Visit ID (required)"`

	globals *GlobalFlags
	version string
}

// IngestCommand: start the trail daemon (local HTTP service plus pruner).
type IngestCommand struct {
	Host     string `long:"host" description:"Override daemon listen host"`
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	NoPrune  bool   `long:"no-prune" description:"Do not run the background retention pruner"`

	globals *GlobalFlags
	version string
}

// PruneCommand: apply retention pruning to remove old visits.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`
	Force     bool   `long:"force" description:"Skip confirmation prompt"`

	globals *GlobalFlags
	version string
	stdin   io.Reader // nil means os.Stdin
}

// PurgeCommand: delete ALL visits with safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	stdin   io.Reader // nil means os.Stdin
}

// ReindexCommand: recompute search columns and rebuild indexes.
type ReindexCommand struct {
	globals *GlobalFlags
	version string
}
