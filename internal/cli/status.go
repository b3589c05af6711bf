package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
	"github.com/runnerr0/trail/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string              `json:"version"`
	DatabasePath      string              `json:"database_path"`
	DatabaseSizeBytes int64               `json:"database_size_bytes"`
	TotalVisits       int64               `json:"total_visits"`
	DistinctURLs      int64               `json:"distinct_urls"`
	OldestVisit       string              `json:"oldest_visit,omitempty"`
	NewestVisit       string              `json:"newest_visit,omitempty"`
	RetentionDays     int                 `json:"retention_days"`
	TopHosts          []history.HostCount `json:"top_hosts"`
	LastClear         *auditJSON          `json:"last_clear,omitempty"`
	DaemonRunning     bool                `json:"daemon_running"`
}

type auditJSON struct {
	Action  string `json:"action"`
	Removed int64  `json:"removed"`
	At      string `json:"at"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	eng, cfg, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng, cfg)
}

// executeWithEngine runs status against a provided engine (for testing).
func (c *StatusCommand) executeWithEngine(eng *engine.Engine, cfg *config.Config) error {
	ctx := context.Background()

	stats, err := eng.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	audit, err := eng.AuditLog(ctx, 1)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	var last *storage.AuditEntry
	if len(audit) > 0 {
		last = &audit[0]
	}

	daemonRunning := checkDaemon(cfg.Daemon)

	if c.globals.wantJSON() {
		return c.printStatusJSON(stats, eng.Path(), cfg, last, daemonRunning)
	}
	return c.printStatusHuman(stats, eng.Path(), cfg, last, daemonRunning)
}

func (c *StatusCommand) printStatusHuman(stats *history.Stats, dbPath string, cfg *config.Config, last *storage.AuditEntry, daemonRunning bool) error {
	fmt.Println("Trail Status")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", dbPath, formatBytes(stats.DatabaseSizeBytes))
	fmt.Printf("Visits:        %s\n", formatNumber(stats.TotalVisits))
	fmt.Printf("Pages:         %s\n", formatNumber(stats.DistinctURLs))

	if stats.TotalVisits > 0 {
		fmt.Printf("Oldest:        %s\n", formatEpoch(stats.OldestVisit, "2006-01-02"))
		fmt.Printf("Newest:        %s\n", formatEpoch(stats.NewestVisit, "2006-01-02"))
	}

	if cfg.Retention.Days > 0 {
		fmt.Printf("Retention:     %d days\n", cfg.Retention.Days)
	} else {
		fmt.Println("Retention:     forever")
	}
	if last != nil {
		fmt.Printf("Last clear:    %s (%s, %s removed)\n",
			formatEpoch(last.TS, "2006-01-02 15:04"), last.Action, formatNumber(last.Removed))
	}

	if len(stats.TopHosts) > 0 {
		fmt.Println()
		fmt.Println("Top Hosts:")
		for _, h := range stats.TopHosts {
			fmt.Printf("  %-24s %s\n", h.Host, formatNumber(h.Count))
		}
	}

	fmt.Println()
	if daemonRunning {
		fmt.Printf("Daemon:        running on %s\n", daemonAddr(cfg.Daemon))
	} else {
		fmt.Println("Daemon:        not running")
	}

	return nil
}

func (c *StatusCommand) printStatusJSON(stats *history.Stats, dbPath string, cfg *config.Config, last *storage.AuditEntry, daemonRunning bool) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		TotalVisits:       stats.TotalVisits,
		DistinctURLs:      stats.DistinctURLs,
		RetentionDays:     cfg.Retention.Days,
		TopHosts:          stats.TopHosts,
		DaemonRunning:     daemonRunning,
	}
	if out.TopHosts == nil {
		out.TopHosts = []history.HostCount{}
	}

	if stats.TotalVisits > 0 {
		out.OldestVisit = time.Unix(stats.OldestVisit, 0).UTC().Format(time.RFC3339)
		out.NewestVisit = time.Unix(stats.NewestVisit, 0).UTC().Format(time.RFC3339)
	}
	if last != nil {
		out.LastClear = &auditJSON{
			Action:  last.Action,
			Removed: last.Removed,
			At:      time.Unix(last.TS, 0).UTC().Format(time.RFC3339),
		}
	}

	return printJSON(out)
}

func daemonAddr(d config.DaemonConfig) string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// checkDaemon asks the configured daemon for its health endpoint.
// Returns true if the daemon responds within 1 second.
func checkDaemon(d config.DaemonConfig) bool {
	u := url.URL{Scheme: "http", Host: daemonAddr(d), Path: "/api/health"}

	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
