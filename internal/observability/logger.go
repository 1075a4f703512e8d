// Package observability provides the structured logger and Prometheus
// metrics shared by the service components.
package observability

import (
	"log/slog"
	"os"
)

// NewLogger builds a slog logger writing to stdout. Level is one of debug,
// info, warn, error; format is json or text. Unknown values fall back to
// info and json.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
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
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
