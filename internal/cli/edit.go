package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

// Execute implements the go-flags Commander interface for DurationCommand.
func (c *DurationCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("--id is required for duration command")
	}
	if c.Seconds < 0 {
		return fmt.Errorf("--seconds is required for duration command")
	}

	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *DurationCommand) executeWithEngine(eng *engine.Engine) error {
	err := eng.UpdateVisitDuration(context.Background(), history.VisitID(c.ID), c.Seconds)
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("visit not found: %s", c.ID)
	}
	if err != nil {
		return fmt.Errorf("update duration: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(map[string]any{"id": c.ID, "visit_duration": c.Seconds})
	}
	fmt.Printf("Visit %s duration set to %s\n", c.ID, formatVisitDuration(&c.Seconds))
	return nil
}

// Execute implements the go-flags Commander interface for DeleteCommand.
func (c *DeleteCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("--id is required for delete command")
	}

	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *DeleteCommand) executeWithEngine(eng *engine.Engine) error {
	err := eng.DeleteVisit(context.Background(), history.VisitID(c.ID))
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("visit not found: %s", c.ID)
	}
	if err != nil {
		return fmt.Errorf("delete visit: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(map[string]any{"id": c.ID, "deleted": true})
	}
	fmt.Printf("Deleted visit %s\n", c.ID)
	return nil
}

// Execute implements the go-flags Commander interface for ReindexCommand.
func (c *ReindexCommand) Execute(args []string) error {
	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *ReindexCommand) executeWithEngine(eng *engine.Engine) error {
	n, err := eng.RebuildIndexes(context.Background())
	if err != nil {
		return fmt.Errorf("rebuild indexes: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(map[string]any{"repaired": n})
	}
	fmt.Printf("Indexes rebuilt, %s %s repaired\n", formatNumber(n), plural(n, "visit", "visits"))
	return nil
}
