package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds a slog logger writing to w.
//
// format: "json" → JSONHandler, anything else → TextHandler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupLogger installs NewLogger(w, format, level) as the slog default.
// Diagnostics go to w (stderr in the CLI); the step status lines own stdout.
func SetupLogger(w io.Writer, format, level string) {
	slog.SetDefault(NewLogger(w, format, level))
	slog.Debug("logger initialised", "format", format, "level", ParseLevel(level).String())
}

// ParseLevel maps a config string to a slog level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
