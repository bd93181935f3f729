// Package logging configures the engine's operational log: migrations, GC
// sweeps, and event subscriber panics, sent through the standard log/slog
// to a size-rotated file sink.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the log file rotates.
type Config struct {
	// Path is the log file location. Empty disables file output; logs go
	// to stderr only.
	Path string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// AlsoStderr mirrors every record to stderr in addition to the file,
	// useful for cmd/elemctl's interactive one-shot runs.
	AlsoStderr bool

	// Level sets the minimum record level. Defaults to slog.LevelInfo.
	Level slog.Level
}

// New builds a *slog.Logger per cfg. A zero Config logs to stderr only.
func New(cfg Config) *slog.Logger {
	var writers []io.Writer

	if cfg.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    defaultInt(cfg.MaxSizeMB, 10),
			MaxBackups: defaultInt(cfg.MaxBackups, 5),
			MaxAge:     defaultInt(cfg.MaxAgeDays, 28),
			Compress:   true,
		})
	}
	if cfg.AlsoStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.Level})
	return slog.New(handler)
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
