package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// FileSinkOptions configures the optional rotating log file sink.
type FileSinkOptions struct {
	Path       string // empty disables the file sink
	MaxSizeMB  int    // megabytes before rotation; 0 uses lumberjack's default (100)
	MaxBackups int    // old files to retain
	MaxAgeDays int    // days to retain old files
	Compress   bool
}

// NewWriter builds the destination writer for New: stderr alone, or stderr
// tee'd with a lumberjack-rotated file when opts.Path is set. A long-running
// simulator has no external log-rotation sidecar, so rotation is carried
// in-process the way cppla-moto does for its packet-capture logs.
func NewWriter(opts FileSinkOptions) io.Writer {
	if opts.Path == "" {
		return os.Stderr
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return io.MultiWriter(os.Stderr, rotator)
}
