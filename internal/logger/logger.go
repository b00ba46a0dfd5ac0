// Package logger builds the process-wide structured logger. Records are
// written as JSON to a rotated file, optionally mirrored to a console
// writer and to an OpenTelemetry log provider.
//
// Log files are organized as:
//
//	<logDir>/system.log              current file
//	<logDir>/system-<time>.log.gz    rotated files
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	console        io.Writer
	loggerProvider log.LoggerProvider
	serviceName    string
	maxSizeMB      int
	maxBackups     int
	maxAgeDays     int
}

// Option customizes NewSystemLogger.
type Option func(*options)

// WithConsole mirrors records to w as text.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithLoggerProvider forwards records to an OpenTelemetry log provider.
func WithLoggerProvider(name string, lp log.LoggerProvider) Option {
	return func(o *options) {
		o.serviceName = name
		o.loggerProvider = lp
	}
}

// WithRotation overrides the rotation limits.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// NewSystemLogger creates a JSON slog.Logger that writes to <logDir>/system.log.
// The directory is created if it does not exist. The returned closer closes
// the log file.
func NewSystemLogger(logDir string, level slog.Level, opts ...Option) (*slog.Logger, io.Closer, error) {
	o := options{maxSizeMB: 50, maxBackups: 5, maxAgeDays: 28}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory %q: %w", logDir, err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "system.log"),
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		MaxAge:     o.maxAgeDays,
		Compress:   true,
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewJSONHandler(file, handlerOpts)}
	if o.console != nil {
		handlers = append(handlers, slog.NewTextHandler(o.console, handlerOpts))
	}
	if o.loggerProvider != nil {
		handlers = append(handlers, levelHandler{
			level:   level,
			Handler: otelslog.NewHandler(o.serviceName, otelslog.WithLoggerProvider(o.loggerProvider)),
		})
	}

	return slog.New(newFanout(handlers...)), file, nil
}

// levelHandler applies a minimum level to a handler that has none of its own.
type levelHandler struct {
	level slog.Level
	slog.Handler
}

func (h levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level && h.Handler.Enabled(ctx, l)
}

func (h levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelHandler{level: h.level, Handler: h.Handler.WithAttrs(attrs)}
}

func (h levelHandler) WithGroup(name string) slog.Handler {
	return levelHandler{level: h.level, Handler: h.Handler.WithGroup(name)}
}

// fanout sends each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func newFanout(handlers ...slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return &fanout{handlers: handlers}
}

func (f *fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanout{handlers: out}
}
