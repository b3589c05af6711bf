package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/retention"
)

type pruneJSON struct {
	Pruned    int64  `json:"pruned"`
	DryRun    bool   `json:"dry_run"`
	OlderThan string `json:"older_than"`
	Cutoff    string `json:"cutoff"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	eng, cfg, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng, cfg)
}

// executeWithEngine runs prune against a provided engine (for testing).
func (c *PruneCommand) executeWithEngine(eng *engine.Engine, cfg *config.Config) error {
	maxAge := cfg.RetentionMaxAge()
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return err
		}
		maxAge = d
	}
	if maxAge <= 0 {
		if c.globals.wantJSON() {
			return printJSON(pruneJSON{OlderThan: "forever", DryRun: c.DryRun})
		}
		fmt.Println("Retention is disabled (retention.days = 0); nothing to prune.")
		return nil
	}

	ctx := context.Background()
	cutoff := retention.Cutoff(time.Now(), maxAge)
	human := formatDurationHuman(maxAge)

	n, err := eng.PreviewOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count prunable visits: %w", err)
	}

	result := pruneJSON{
		Pruned:    n,
		DryRun:    c.DryRun,
		OlderThan: human,
		Cutoff:    time.Unix(cutoff, 0).UTC().Format(time.RFC3339),
	}

	if c.DryRun {
		if c.globals.wantJSON() {
			return printJSON(result)
		}
		fmt.Printf("[DRY RUN] Would prune %s %s older than %s\n", formatNumber(n), plural(n, "visit", "visits"), human)
		return nil
	}

	if n == 0 {
		if c.globals.wantJSON() {
			return printJSON(result)
		}
		fmt.Printf("No visits to prune (older than %s)\n", human)
		return nil
	}

	if !c.Force {
		answer, err := prompt(c.stdin, fmt.Sprintf("Prune %s %s older than %s? Proceed? [y/N] ",
			formatNumber(n), plural(n, "visit", "visits"), human))
		if err != nil {
			return err
		}
		if a := strings.ToLower(answer); a != "y" && a != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	removed, err := eng.ClearOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	result.Pruned = removed

	if c.globals.wantJSON() {
		return printJSON(result)
	}
	fmt.Printf("Pruned %s %s older than %s\n", formatNumber(removed), plural(removed, "visit", "visits"), human)
	return nil
}
