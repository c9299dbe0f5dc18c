// Package log builds the slog loggers used across carrel.
//
// Loggers are injected through constructors rather than pulled from a
// global; components add their own context with With:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	store := store.NewPostgres(pool, logger.With("component", "store"))
//
// Logger aliases *slog.Logger so callers keep the full slog API without
// an adapter interface.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is what components accept as their logging dependency.
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON format output. Default: false (text format)
	JSON bool

	// AddSource adds source file information to log entries. Default: false
	AddSource bool
}

// New creates a logger writing to os.Stderr.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger writing to w. Tests pass a buffer here
// to assert on output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test-only; production
// code always gets a real logger from New.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
