package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status   *StatusCommand
	Search   *SearchCommand
	Recent   *RecentCommand
	Top      *TopCommand
	Frecent  *FrecentCommand
	Visits   *VisitsCommand
	Open     *OpenCommand
	Add      *AddCommand
	Duration *DurationCommand
	Delete   *DeleteCommand
	Ingest   *IngestCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
	Reindex  *ReindexCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "trail"
	parser.LongDescription = "Local browsing history storage, search and frecency ranking."

	cmds := &commands{
		Status:   &StatusCommand{globals: &globals, version: version},
		Search:   &SearchCommand{globals: &globals, version: version},
		Recent:   &RecentCommand{globals: &globals, version: version},
		Top:      &TopCommand{globals: &globals, version: version},
		Frecent:  &FrecentCommand{globals: &globals, version: version},
		Visits:   &VisitsCommand{globals: &globals, version: version},
		Open:     &OpenCommand{globals: &globals, version: version},
		Add:      &AddCommand{globals: &globals, version: version},
		Duration: &DurationCommand{globals: &globals, version: version},
		Delete:   &DeleteCommand{globals: &globals, version: version},
		Ingest:   &IngestCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
		Reindex:  &ReindexCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show history statistics", "Show database statistics, daemon health, and configuration summary.", cmds.Status)
	parser.AddCommand("search", "Search visits", "Search visits by URL or title text, with an optional time window.", cmds.Search)
	parser.AddCommand("recent", "List recent visits", "List the most recent visits, newest first.", cmds.Recent)
	parser.AddCommand("top", "Most visited pages", "Rank pages by number of visits.", cmds.Top)
	parser.AddCommand("frecent", "Frecent pages", "Rank pages by frecency: visit count weighted by how recent each visit was.", cmds.Frecent)
	parser.AddCommand("visits", "List visits to a URL", "List every visit to exactly one URL, newest first.", cmds.Visits)
	parser.AddCommand("open", "Print a stored visit", "Print the stored fields of a specific visit.", cmds.Open)
	parser.AddCommand("add", "Manually record a visit", "Manually record a visit to a URL.", cmds.Add)
	parser.AddCommand("duration", "Set a visit's duration", "Set how many seconds were spent on a visited page.", cmds.Duration)
	parser.AddCommand("delete", "Delete one visit", "Delete a single visit by ID.", cmds.Delete)
	parser.AddCommand("ingest", "Start the trail daemon", "Start the trail daemon (local HTTP service and retention pruner).", cmds.Ingest)
	parser.AddCommand("prune", "Apply retention pruning", "Remove visits older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL history", "Delete ALL visits. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("reindex", "Rebuild search indexes", "Recompute derived search columns and rebuild indexes.", cmds.Reindex)

	return parser, &globals, cmds
}

// Run is the main entry point for the trail CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("trail %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
