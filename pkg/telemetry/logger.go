package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel converts a config level name to a slog.Level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// LoggerOptions configures NewLogger
type LoggerOptions struct {
	Level  slog.Level
	JSON   bool
	Buffer int
	OnDrop func()
}

// NewLogger builds a slog.Logger writing to w through an AsyncHandler.
// Call Close on the returned handler before exit to flush.
func NewLogger(w io.Writer, opts LoggerOptions) (*slog.Logger, *AsyncHandler) {
	hopts := &slog.HandlerOptions{Level: opts.Level}
	var inner slog.Handler
	if opts.JSON {
		inner = slog.NewJSONHandler(w, hopts)
	} else {
		inner = slog.NewTextHandler(w, hopts)
	}
	async := NewAsyncHandler(inner, opts.Buffer, opts.OnDrop)
	return slog.New(async), async
}
