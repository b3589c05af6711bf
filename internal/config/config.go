package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/trail/config.yaml"

// Config holds all trail configuration.
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Capture   CaptureConfig   `yaml:"capture"`
	Storage   StorageConfig   `yaml:"storage"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RetentionConfig controls automatic pruning. Days of 0 keeps history
// forever.
type RetentionConfig struct {
	Days               int `yaml:"days" validate:"gte=0"`
	PruneIntervalHours int `yaml:"prune_interval_hours" validate:"gte=1"`
}

// CaptureConfig decides which visits are recorded at all.
type CaptureConfig struct {
	ExcludeIncognito      bool     `yaml:"exclude_incognito"`
	UseDefaultDenylist    bool     `yaml:"use_default_denylist"`
	AllowlistDomains      []string `yaml:"allowlist_domains" validate:"dive,hostname_rfc1123"`
	DenylistDomains       []string `yaml:"denylist_domains" validate:"dive,hostname_rfc1123"`
	DenylistRegex         []string `yaml:"denylist_regex"`
	IgnoredSchemes        []string `yaml:"ignored_schemes" validate:"dive,required"`
	DedupeIntervalSeconds int      `yaml:"dedupe_interval_seconds" validate:"gte=0"`
}

type StorageConfig struct {
	Path          string `yaml:"path" validate:"required"`
	SQLiteFile    string `yaml:"sqlite_file" validate:"required"`
	Driver        string `yaml:"driver" validate:"oneof=sqlite3 sqlite"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms" validate:"gte=0"`
}

type DaemonConfig struct {
	Host           string   `yaml:"host" validate:"required"`
	Port           int      `yaml:"port" validate:"gte=1,lte=65535"`
	AuthToken      string   `yaml:"auth_token"`
	MaxRequestSize int64    `yaml:"max_request_size" validate:"gte=1024"`
	RateLimit      float64  `yaml:"rate_limit" validate:"gte=0"`
	RateBurst      int      `yaml:"rate_burst" validate:"gte=0"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" validate:"oneof=json console"`
	File     string `yaml:"file"`
	AuditLog bool   `yaml:"audit_log"`
}

// Validate checks field constraints after defaults and overrides are merged.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DBPath returns the absolute path of the SQLite database file.
func (c *Config) DBPath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// LogPath returns the log file path, resolved against the storage directory
// when relative. It is empty when file logging is off.
func (c *Config) LogPath() (string, error) {
	if c.Logging.File == "" {
		return "", nil
	}
	p, err := expandPath(c.Logging.File)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// BusyTimeout returns the SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMS) * time.Millisecond
}

// RetentionMaxAge returns how long visits are kept, or 0 for forever.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.Days) * 24 * time.Hour
}

// PruneInterval returns the time between automatic prune passes.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Retention.PruneIntervalHours) * time.Hour
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// ExcludeIncognito is always true regardless of config file.
	cfg.Capture.ExcludeIncognito = true

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ExpandPath is expandPath for callers outside the package, such as CLI
// flags that take a path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
