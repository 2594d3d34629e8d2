package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the handler, level and destinations of the process logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	// File, when set, receives a copy of every record and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel maps a textual level to slog.Level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds the process logger. The returned closer flushes the rotating
// file (if any) and must be called on shutdown.
func New(opts Options, stdout io.Writer) (*SlogLogger, io.Closer, error) {
	if stdout == nil {
		stdout = os.Stdout
	}

	var (
		w      = stdout
		closer io.Closer = nopCloser{}
	)

	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize, // MB
			MaxBackups: opts.MaxBackups,
			Compress:   false,
		}
		w = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	ho := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	return NewSlogLogger(slog.New(h)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
