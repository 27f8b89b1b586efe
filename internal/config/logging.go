package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// LevelTrace sits below Debug and is reserved for individual wire
// frames. The host currently logs only its greeting frame at this
// level; other requests, responses and notifications are not traced.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts the config/CLI log level name to a slog.Level.
// Supported values: trace, debug, info, warn, error (case-insensitive);
// an empty string means info.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is a slog.HandlerOptions.ReplaceAttr that gives
// LevelTrace a readable name — slog would otherwise render it as the
// numeric "DEBUG-4".
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// NewHandler builds the process's log handler. A text handler is used
// when w is an interactive terminal (easier for an operator watching
// the host directly); otherwise output is newline-delimited JSON, which
// is what every supervisor that launches the host as a subprocess
// expects to scrape.
func NewHandler(w *os.File, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceLogLevelNames,
	}
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(io.Writer(w), opts)
}
