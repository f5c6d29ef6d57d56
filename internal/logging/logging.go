// Package logging configures the process-wide slog logger and carries
// request-scoped attributes through a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ContextKey is the type of the context keys set by this package.
type ContextKey string

const (
	// RequestIDKey holds the id of the HTTP request being served.
	RequestIDKey ContextKey = "request_id"
	// SessionIDKey holds the id of the intake session being worked on.
	SessionIDKey ContextKey = "session_id"
)

// Config selects the level (debug, info, warn, error) and the format
// (text, json).
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ParseLevel maps a config spelling onto a slog.Level. Unknown values
// select info.
func ParseLevel(s string) slog.Level {
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

// New builds a logger writing to w.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Init installs a stderr logger as the slog default and returns it. Stdout
// is left to command output and the MCP stdio transport.
func Init(cfg Config) *slog.Logger {
	l := New(os.Stderr, cfg)
	slog.SetDefault(l)
	return l
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithSessionID returns a context carrying the session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// FromContext returns the default logger enriched with whichever ids ctx
// carries.
func FromContext(ctx context.Context) *slog.Logger {
	return With(ctx, slog.Default())
}

// With enriches l with the ids carried by ctx.
func With(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		l = l.With(string(RequestIDKey), id)
	}
	if id, ok := ctx.Value(SessionIDKey).(string); ok && id != "" {
		l = l.With(string(SessionIDKey), id)
	}
	return l
}
