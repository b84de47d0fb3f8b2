// Package logger builds the process logger. Output is structured slog,
// JSON by default, with an optional OpenTelemetry bridge so batch runs can
// ship their logs to a collector.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
)

// New creates a logger from the environment. LOG_LEVEL and LOG_FORMAT are
// read directly because the logger has to exist before the configuration
// can be loaded and reported on.
func New() *slog.Logger {
	return newLogger("wien-oepnv", false)
}

// NewWithOTel creates a logger that additionally forwards records to the
// global OpenTelemetry logger provider.
func NewWithOTel(name string) *slog.Logger {
	return newLogger(name, true)
}

func newLogger(name string, withOTel bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}
	var base slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "plain") {
		base = slog.NewTextHandler(os.Stdout, opts)
	} else {
		base = slog.NewJSONHandler(os.Stdout, opts)
	}
	if !withOTel {
		return slog.New(base)
	}
	otelHandler := otelslog.NewHandler(
		name,
		otelslog.WithLoggerProvider(global.GetLoggerProvider()),
	)
	return slog.New(NewMultiHandler(base, otelHandler))
}

// MultiHandler fans every record out to all wrapped handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: next}
}

func (h *MultiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &MultiHandler{handlers: next}
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
