// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVarLogLevel is the environment variable read by SetDefault.
const EnvVarLogLevel = "LOG_LEVEL"

// New returns a JSON logger writing to w, tagged with module and version.
// Source locations are attached only at debug level.
func New(w io.Writer, module, version, level string) *slog.Logger {
	lev := ParseLevel(level)

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     lev,
		AddSource: lev <= slog.LevelDebug,
	})).With("module", module, "version", version)
}

// SetDefault installs a stderr JSON logger as slog's default, with the level
// taken from LOG_LEVEL.
func SetDefault(module, version string) *slog.Logger {
	logger := New(os.Stderr, module, version, os.Getenv(EnvVarLogLevel))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug/info/warn/error (case-insensitive) to a slog.Level.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
