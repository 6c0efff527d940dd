package logger

import (
	"log/slog"
	"os"
	"strings"
)

// L is the process-wide logger. Init replaces it; before Init it logs
// text at info level to stderr.
var L = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Init configures the process logger from the log section of the
// config file. Format is "text" or "json".
func Init(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	L = slog.New(handler)
	slog.SetDefault(L)
}
