package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Config{Level: "warn", Format: "json"})

	l.Info("dropped")
	l.Warn("kept", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Config{Level: "debug", Format: "text"}).Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestInit_SetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	l := Init(Config{Level: "error"})
	assert.Same(t, l, slog.Default())
}

func TestWith_ContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, Config{Format: "json"})

	ctx := WithSessionID(WithRequestID(context.Background(), "req-1"), "sess-9")
	With(ctx, base).Info("turn")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "sess-9", rec["session_id"])
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestWith_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, Config{Format: "json"})
	With(context.Background(), base).Info("plain")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "request_id")
	assert.NotContains(t, rec, "session_id")
	assert.Empty(t, RequestID(context.Background()))
	assert.NotNil(t, FromContext(context.Background()))
}
