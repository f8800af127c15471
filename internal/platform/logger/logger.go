package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New returns the application logger. MERIDIAN_LOG_FORMAT=json switches to
// JSON output; MERIDIAN_LOG_LEVEL picks the floor (debug, info, warn,
// error).
func New() *slog.Logger {
	level := parseLevel(os.Getenv("MERIDIAN_LOG_LEVEL"))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("MERIDIAN_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
