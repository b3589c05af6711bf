package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/trail/internal/engine"
)

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

// executeWithEngine runs purge against a provided engine (for testing).
func (c *PurgeCommand) executeWithEngine(eng *engine.Engine) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	// Confirmation prompt unless --force
	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL browsing history.")
		fmt.Println("  - All visits")
		fmt.Println("  - All visit durations and referrers")
		fmt.Println()
		fmt.Println("This action cannot be undone.")
		fmt.Println()

		answer, err := prompt(c.stdin, `Type "PURGE" to confirm: `)
		if err != nil {
			return err
		}
		if answer != "PURGE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	removed, err := eng.ClearAll(context.Background())
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(map[string]any{
			"purged":  true,
			"removed": removed,
			"message": "all visits deleted",
		})
	}

	fmt.Printf("Purged %s %s. History is empty.\n", formatNumber(removed), plural(removed, "visit", "visits"))
	return nil
}
