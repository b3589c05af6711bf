package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/history"
)

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng, args)
}

// executeWithEngine runs the search against a provided engine (for testing).
func (c *SearchCommand) executeWithEngine(eng *engine.Engine, args []string) error {
	text := strings.Join(args, " ")

	q := history.SearchQuery{
		Text:   text,
		Match:  history.MatchSubstring,
		Limit:  c.Limit,
		Offset: c.Offset,
	}
	if c.Prefix {
		q.Match = history.MatchPrefix
	}

	now := time.Now()
	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		q.Start = history.Int64(now.Add(-dur).Unix())
	}
	if c.Until != "" {
		dur, err := parseDuration(c.Until)
		if err != nil {
			return fmt.Errorf("invalid --until value %q: %w", c.Until, err)
		}
		q.End = history.Int64(now.Add(-dur).Unix())
	}

	visits, err := eng.Search(context.Background(), q)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(visitListJSON{Count: len(visits), Query: text, Visits: nonNilVisits(visits)})
	}

	window := "all time"
	if c.Since != "" {
		window = "since " + c.Since
	}
	if len(visits) == 0 {
		if text != "" {
			fmt.Printf("No visits found for %q (%s)\n", text, window)
		} else {
			fmt.Printf("No visits found (%s)\n", window)
		}
		return nil
	}

	word := plural(int64(len(visits)), "visit", "visits")
	if text != "" {
		fmt.Printf("Found %d %s for %q (%s)\n\n", len(visits), word, text, window)
	} else {
		fmt.Printf("Found %d %s (%s)\n\n", len(visits), word, window)
	}
	printVisits(visits, c.Offset)
	return nil
}

// Execute implements the go-flags Commander interface for RecentCommand.
func (c *RecentCommand) Execute(args []string) error {
	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *RecentCommand) executeWithEngine(eng *engine.Engine) error {
	visits, err := eng.GetRecent(context.Background(), c.Limit)
	if err != nil {
		return fmt.Errorf("recent visits: %w", err)
	}

	if c.globals.wantJSON() {
		return printJSON(visitListJSON{Count: len(visits), Visits: nonNilVisits(visits)})
	}
	if len(visits) == 0 {
		fmt.Println("No visits recorded yet")
		return nil
	}
	printVisits(visits, 0)
	return nil
}

// Execute implements the go-flags Commander interface for VisitsCommand.
func (c *VisitsCommand) Execute(args []string) error {
	if c.URL == "" && len(args) == 1 {
		c.URL = args[0]
	}
	if c.URL == "" {
		return fmt.Errorf("--url is required for visits command")
	}

	eng, _, err := openEngine(c.globals)
	if err != nil {
		return err
	}
	defer eng.Close()

	return c.executeWithEngine(eng)
}

func (c *VisitsCommand) executeWithEngine(eng *engine.Engine) error {
	visits, err := eng.GetVisitsForURL(context.Background(), c.URL)
	if err != nil {
		return fmt.Errorf("visits for %s: %w", c.URL, err)
	}

	if c.globals.wantJSON() {
		return printJSON(visitListJSON{Count: len(visits), Query: c.URL, Visits: nonNilVisits(visits)})
	}
	if len(visits) == 0 {
		fmt.Printf("No visits to %s\n", c.URL)
		return nil
	}

	fmt.Printf("%d %s to %s\n\n", len(visits), plural(int64(len(visits)), "visit", "visits"), c.URL)
	for _, v := range visits {
		fmt.Printf("  %s  %s  %-11s %s\n",
			formatEpoch(v.VisitTime, "2006-01-02 15:04"), v.ID, v.Transition, formatVisitDuration(v.Duration))
	}
	return nil
}

type visitListJSON struct {
	Count  int             `json:"count"`
	Query  string          `json:"query,omitempty"`
	Visits []history.Visit `json:"visits"`
}

func nonNilVisits(v []history.Visit) []history.Visit {
	if v == nil {
		return []history.Visit{}
	}
	return v
}

func printVisits(visits []history.Visit, offset int) {
	for i, v := range visits {
		title := v.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%d. %s\n", i+1+offset, title)
		fmt.Printf("   %s\n", v.URL)

		meta := formatEpoch(v.VisitTime, "2006-01-02 15:04") + " · " + string(v.Transition)
		if v.Duration != nil {
			meta += " · " + formatVisitDuration(v.Duration)
		}
		fmt.Printf("   %s\n", meta)
		fmt.Printf("   id: %s\n", v.ID)

		if i < len(visits)-1 {
			fmt.Println()
		}
	}
}

func formatVisitDuration(d *int64) string {
	if d == nil {
		return "-"
	}
	return (time.Duration(*d) * time.Second).String()
}
