// Package logger wraps log/slog behind a small interface with functional
// options. Handlers fan out through slog-multi so a file sink can run next
// to stderr.
package logger

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the structured logging interface used across the engine.
type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)

	With(tags ...any) Logger
}

type config struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
}

// Option configures a logger.
type Option func(*config)

// WithDebug lowers the level to debug.
func WithDebug() Option {
	return func(c *config) { c.debug = true }
}

// WithFormat selects "text" or "json" output.
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// WithWriter attaches an additional sink.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithQuiet suppresses the stderr handler.
func WithQuiet() Option {
	return func(c *config) { c.quiet = true }
}

type appLogger struct {
	logger *slog.Logger
}

var _ Logger = (*appLogger)(nil)

// New builds a logger from the options.
func New(opts ...Option) Logger {
	cfg := &config{format: "text"}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if !cfg.quiet {
		handlers = append(handlers, newHandler(os.Stderr, cfg.format, handlerOpts))
	}
	if cfg.writer != nil {
		handlers = append(handlers, newHandler(cfg.writer, cfg.format, handlerOpts))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, slog.NewTextHandler(io.Discard, handlerOpts))
	}

	return &appLogger{logger: slog.New(slogmulti.Fanout(handlers...))}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func (l *appLogger) Debug(msg string, tags ...any) { l.logger.Debug(msg, tags...) }
func (l *appLogger) Info(msg string, tags ...any)  { l.logger.Info(msg, tags...) }
func (l *appLogger) Warn(msg string, tags ...any)  { l.logger.Warn(msg, tags...) }
func (l *appLogger) Error(msg string, tags ...any) { l.logger.Error(msg, tags...) }

func (l *appLogger) With(tags ...any) Logger {
	return &appLogger{logger: l.logger.With(tags...)}
}

var defaultLogger = New()

// Default returns the process-wide logger.
func Default() Logger { return defaultLogger }
