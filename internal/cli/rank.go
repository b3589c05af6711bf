package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

type pageListJSON struct {
	Count int                     `json:"count"`
	Order string                  `json:"order"`
	Pages []history.PageAggregate `json:"pages"`
}

// Execute implements the go-flags Commander interface for TopCommand.
func (c *TopCommand) Execute(args []string) error {
	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *TopCommand) executeWithEngine(eng *engine.Engine) error {
	pages, err := eng.GetMostVisited(context.Background(), c.Limit)
	if err != nil {
		return fmt.Errorf("most visited: %w", err)
	}
	return printPages(c.globals, "visit_count", pages)
}

// Execute implements the go-flags Commander interface for FrecentCommand.
func (c *FrecentCommand) Execute(args []string) error {
	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *FrecentCommand) executeWithEngine(eng *engine.Engine) error {
	pages, err := eng.GetFrecent(context.Background(), c.Limit)
	if err != nil {
		return fmt.Errorf("frecent pages: %w", err)
	}
	return printPages(c.globals, "frecency", pages)
}

func printPages(globals *GlobalFlags, order string, pages []history.PageAggregate) error {
	if globals.wantJSON() {
		if pages == nil {
			pages = []history.PageAggregate{}
		}
		return printJSON(pageListJSON{Count: len(pages), Order: order, Pages: pages})
	}

	if len(pages) == 0 {
		fmt.Println("No visits recorded yet")
		return nil
	}

	for i, p := range pages {
		title := p.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%d. %s\n", i+1, title)
		fmt.Printf("   %s\n", p.URL)
		fmt.Printf("   %s %s · last %s · score %s\n",
			formatNumber(p.VisitCount), plural(p.VisitCount, "visit", "visits"),
			formatEpoch(p.LastVisit, "2006-01-02 15:04"),
			formatNumber(p.FrecencyScore),
		)
		if i < len(pages)-1 {
			fmt.Println()
		}
	}
	return nil
}
