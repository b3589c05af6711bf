package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/trail/internal/capture"
	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}

	eng, cfg, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng, cfg)
}

// executeWithEngine runs the add logic against a provided engine (used by tests).
func (c *AddCommand) executeWithEngine(eng *engine.Engine, cfg *config.Config) error {
	now := time.Now()
	visitTime := now
	if c.At != "" {
		t, err := time.Parse(time.RFC3339, c.At)
		if err != nil {
			return fmt.Errorf("invalid --at value %q: use RFC 3339, e.g. 2024-05-01T09:30:00Z", c.At)
		}
		visitTime = t
	}

	// Manual adds go through the same capture rules as the daemon, but a
	// denial is an error here rather than a silent skip.
	policy, err := capture.NewPolicy(cfg.Capture)
	if err != nil {
		return fmt.Errorf("capture policy: %w", err)
	}
	if d := policy.Check(c.URL, false, now); !d.Record {
		return fmt.Errorf("%s is excluded by capture rules (%s)", c.URL, d.Reason)
	}

	v := history.Visit{
		URL:        c.URL,
		Title:      c.Title,
		VisitTime:  visitTime.Unix(),
		FromURL:    c.From,
		Transition: history.Transition(c.Transition),
	}
	if c.Duration >= 0 {
		v.Duration = history.Int64(c.Duration)
	}

	ctx := context.Background()
	id, err := eng.RecordVisit(ctx, v)
	if err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}

	stored, err := eng.GetVisit(ctx, id)
	if err != nil {
		return fmt.Errorf("reading back visit: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(stored)
	}

	fmt.Printf("Added visit %s (%s)\n", stored.ID, time.Unix(stored.VisitTime, 0).Format(time.RFC3339))
	fmt.Printf("  URL: %s\n", stored.URL)
	fmt.Printf("  Title: %s\n", stored.Title)
	fmt.Printf("  Transition: %s\n", stored.Transition)
	fmt.Printf("  Duration: %s\n", formatVisitDuration(stored.Duration))

	return nil
}
