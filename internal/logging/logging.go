package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var base atomic.Pointer[slog.Logger]

// Options configures the process logger
type Options struct {
	Service string
	Env     string
	Level   string
	// File, when set, receives a rotated copy of every record
	File      string
	AddSource bool
}

// Init builds the JSON logger, installs it as the slog default and returns it
func Init(opts Options) *slog.Logger {
	var w io.Writer = os.Stdout
	if opts.File != "" {
		rot := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		}
		w = io.MultiWriter(os.Stdout, rot)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     parseLevel(opts.Level),
		AddSource: opts.AddSource,
	})
	l := slog.New(h).With("service", opts.Service, "env", opts.Env)

	base.Store(l)
	slog.SetDefault(l)
	return l
}

// Base returns the process logger, falling back to slog.Default before Init
func Base() *slog.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// New returns a child logger tagged with component
func New(component string) *slog.Logger {
	return Base().With("component", component)
}

// WithCtx stores a logger in ctx
func WithCtx(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromCtx fetches the request-scoped logger or falls back to Base
func FromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Base()
}

func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
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
