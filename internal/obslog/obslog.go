// Package obslog builds the runner's logging sinks: a console handler
// for interactive use, a rotating main log, a rotating error-only log,
// and a separate rotating log for the managed LLM host's stdout and
// stderr.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the runner's log sinks. Paths are relative to the
// process's working directory unless absolute.
type Config struct {
	// Level is the minimum level for the console and main log: "debug",
	// "info", "warn", or "error". Defaults to "info".
	Level string

	// Format is "json" or "text". Defaults to "json".
	Format string

	// Console, when true, also writes main-log records to stdout.
	Console bool

	MainLogPath       string
	ErrorLogPath      string
	SupervisorLogPath string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (c Config) withDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.MainLogPath == "" {
		c.MainLogPath = "dnd_runner.log"
	}
	if c.ErrorLogPath == "" {
		c.ErrorLogPath = "dnd_errors.log"
	}
	if c.SupervisorLogPath == "" {
		c.SupervisorLogPath = "image_service.log"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 28
	}
	return c
}

func levelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
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

// New builds the root logger and a LineSink-compatible writer for the
// Service Supervisor's managed process output. The returned io.Closer
// flushes and closes the rotating log files.
func New(cfg Config) (logger *slog.Logger, supervisorLog *slog.Logger, closer io.Closer) {
	cfg = cfg.withDefaults()
	level := levelFromString(cfg.Level)

	mainRotator := &lumberjack.Logger{
		Filename:   cfg.MainLogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	errorRotator := &lumberjack.Logger{
		Filename:   cfg.ErrorLogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	supervisorRotator := &lumberjack.Logger{
		Filename:   cfg.SupervisorLogPath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	handlers := []slog.Handler{newHandler(cfg.Format, mainRotator, level)}
	if cfg.Console {
		handlers = append(handlers, newHandler(cfg.Format, os.Stdout, level))
	}
	handlers = append(handlers, newHandler(cfg.Format, errorRotator, slog.LevelError))

	logger = slog.New(fanout(handlers))
	supervisorLog = slog.New(newHandler(cfg.Format, supervisorRotator, slog.LevelDebug))

	return logger, supervisorLog, multiCloser{mainRotator, errorRotator, supervisorRotator}
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// LineSink adapts a *slog.Logger into a supervisor.LineSink, tagging
// each line with which stream it came from.
func LineSink(logger *slog.Logger, stream string) func(line string) {
	return func(line string) {
		if line == "" {
			return
		}
		logger.Info(line, "stream", stream)
	}
}

type multiCloser []*lumberjack.Logger

func (m multiCloser) Close() error {
	var first error
	for _, l := range m {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// fanoutHandler dispatches every record to each sub-handler whose own
// level threshold admits it.
type fanoutHandler struct {
	handlers []slog.Handler
}

func fanout(handlers []slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var first error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// EnsureLogDir creates the parent directory for a log path, if any.
func EnsureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
