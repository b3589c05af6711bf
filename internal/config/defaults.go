package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Days:               90,
			PruneIntervalHours: 24,
		},
		Capture: CaptureConfig{
			ExcludeIncognito:      true,
			UseDefaultDenylist:    true,
			AllowlistDomains:      []string{},
			DenylistDomains:       []string{},
			DenylistRegex:         []string{},
			IgnoredSchemes:        []string{"about", "chrome", "chrome-extension", "moz-extension", "edge", "view-source", "data", "javascript", "blob"},
			DedupeIntervalSeconds: 0,
		},
		Storage: StorageConfig{
			Path:          "~/.config/trail",
			SQLiteFile:    "trail.db",
			Driver:        "sqlite3",
			BusyTimeoutMS: 5000,
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           8721,
			AuthToken:      "",
			MaxRequestSize: 1048576,
			RateLimit:      50,
			RateBurst:      100,
			AllowedOrigins: []string{"chrome-extension://*", "moz-extension://*"},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			File:     "trail.log",
			AuditLog: true,
		},
	}
}
