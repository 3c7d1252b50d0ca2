// Package logging provides structured logging configuration and utilities.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Pretty bool
}

// NewLogger builds a slog logger writing to stdout: JSON output by
// default, human-readable text when Pretty is set. Unknown levels fall
// back to info.
func NewLogger(cfg Config) *slog.Logger {
	return slog.New(newHandler(os.Stdout, cfg))
}

// NewLoggerTo builds a logger writing to w. The CLI uses this to keep
// logs on stderr while verdicts go to stdout.
func NewLoggerTo(w io.Writer, cfg Config) *slog.Logger {
	return slog.New(newHandler(w, cfg))
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Pretty {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
