// Package logs configures the process-wide slog logger.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level, format and destination.
type Options struct {
	Level  string // debug, info, warn, error
	JSON   bool
	Output string // "stdout", "stderr" (default) or a directory for rotated files
}

// ParseLevel maps a level name to slog; unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds a logger without touching slog.Default.
func New(o Options) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch o.Output {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		if err := os.MkdirAll(o.Output, 0o755); err != nil {
			return nil, nil, fmt.Errorf("log output: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(o.Output, "daemon-rpc.log"),
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	var h slog.Handler
	if o.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

// Setup builds a logger and installs it as slog.Default.
func Setup(o Options) (*slog.Logger, io.Closer, error) {
	l, c, err := New(o)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(l)
	return l, c, nil
}

// Discard is a logger that drops everything, handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
