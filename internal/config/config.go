// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings. It is built once at startup and passed
// explicitly to the components that need it.
type Config struct {
	// Addr is the listen address for the web server.
	Addr string

	// DBPath is the SQLite database file.
	DBPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel slog.Level

	// LogFile, when set, receives rotated log output in addition to stderr.
	LogFile string

	// LogMaxSizeMB caps a log file's size before rotation.
	LogMaxSizeMB int

	// LogMaxBackups caps how many rotated files are kept.
	LogMaxBackups int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present; missing is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:          envOr("KANBAN_ADDR", ":8000"),
		DBPath:        envOr("KANBAN_DB_PATH", "data/kanban.db"),
		LogFile:       os.Getenv("KANBAN_LOG_FILE"),
		LogMaxSizeMB:  10,
		LogMaxBackups: 5,
	}

	level, err := parseLevel(envOr("KANBAN_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if v := os.Getenv("KANBAN_LOG_MAX_SIZE_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid KANBAN_LOG_MAX_SIZE_MB %q", v)
		}
		cfg.LogMaxSizeMB = n
	}
	if v := os.Getenv("KANBAN_LOG_MAX_BACKUPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("invalid KANBAN_LOG_MAX_BACKUPS %q", v)
		}
		cfg.LogMaxBackups = n
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}
