package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/runnerr0/trail/internal/config"
	"github.com/runnerr0/trail/internal/engine"
	"github.com/runnerr0/trail/internal/logging"
)

// loadConfig resolves the config for a command.
// Priority: --config file > default config (created on first use) > built-in defaults.
// --db-path overrides the storage location either way.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		path, err := config.ExpandPath(globals.Config)
		if err != nil {
			return nil, err
		}
		return config.Load(path)
	}

	path, err := config.ExpandPath(config.DefaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v; using built-in defaults\n", err)
		return config.DefaultConfig(), nil
	}
	return loadDefaultConfig(path, os.Stderr)
}

// loadDefaultConfig loads the config at path, writing defaults there on
// first use. A file that exists but does not parse or validate is an error,
// so user settings are never silently ignored. Only a missing file that
// cannot be created falls back to built-in defaults, with a warning on warn.
func loadDefaultConfig(path string, warn io.Writer) (*config.Config, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadOrCreateAt(path)
	if err != nil {
		fmt.Fprintf(warn, "warning: %v; using built-in defaults\n", err)
		return config.DefaultConfig(), nil
	}
	return cfg, nil
}

// dbPath returns the database file for cfg, honouring --db-path.
func dbPath(globals *GlobalFlags, cfg *config.Config) (string, error) {
	if globals != nil && globals.DBPath != "" {
		return config.ExpandPath(globals.DBPath)
	}
	return cfg.DBPath()
}

// cliLogger is silent unless --verbose is set, in which case debug output
// goes to stderr in console format.
func cliLogger(globals *GlobalFlags) *zap.Logger {
	if globals == nil || !globals.Verbose {
		return zap.NewNop()
	}
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openEngine loads config and opens the history engine it points at.
func openEngine(globals *GlobalFlags) (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, nil, err
	}

	path, err := dbPath(globals, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve db path: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: cfg.BusyTimeout(),
		AuditLog:    cfg.Logging.AuditLog,
		Logger:      cliLogger(globals),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return eng, cfg, nil
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 's':
		return time.Duration(n) * time.Second, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, m or s suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// formatEpoch renders epoch seconds in local time.
func formatEpoch(ts int64, layout string) string {
	return time.Unix(ts, 0).Local().Format(layout)
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if i > 0 {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// prompt prints msg and reads one line from in (os.Stdin when nil),
// returning it trimmed.
func prompt(in io.Reader, msg string) (string, error) {
	if in == nil {
		in = os.Stdin
	}
	fmt.Print(msg)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return "", fmt.Errorf("aborted: no input received")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
