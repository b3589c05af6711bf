package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

// Execute implements the go-flags Commander interface for OpenCommand.
func (c *OpenCommand) Execute(args []string) error {
	if c.ID == "" {
		return fmt.Errorf("--id is required for open command")
	}

	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *OpenCommand) executeWithEngine(eng *engine.Engine) error {
	ctx := context.Background()

	v, err := eng.GetVisit(ctx, history.VisitID(c.ID))
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("visit not found: %s", c.ID)
	}
	if err != nil {
		return fmt.Errorf("get visit: %w", err)
	}

	if c.globals.wantJSON() || c.Format == "json" {
		return printJSON(v)
	}

	switch c.Format {
	case "url":
		fmt.Println(v.URL)
	case "title":
		fmt.Println(v.Title)
	default: // "full"
		count, err := eng.CountVisitsForURL(ctx, v.URL)
		if err != nil {
			return fmt.Errorf("count visits: %w", err)
		}
		c.outputFull(v, count)
	}

	return nil
}

func (c *OpenCommand) outputFull(v *history.Visit, pageVisits int64) {
	fmt.Println(v.ID)
	fmt.Printf("Title:       %s\n", v.Title)
	fmt.Printf("URL:         %s\n", v.URL)
	fmt.Printf("Visited:     %s\n", formatEpoch(v.VisitTime, "2006-01-02 15:04:05"))
	fmt.Printf("Duration:    %s\n", formatVisitDuration(v.Duration))
	fmt.Printf("Transition:  %s\n", v.Transition)
	if v.FromURL != "" {
		fmt.Printf("From:        %s\n", v.FromURL)
	}
	fmt.Printf("Page visits: %s\n", formatNumber(pageVisits))
}
