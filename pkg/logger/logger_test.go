package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextInjectsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	prev := globalLogger
	globalLogger = New(&buf, "debug", "json", false)
	t.Cleanup(func() { globalLogger = prev })

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-1")
	ctx = context.WithValue(ctx, RequestIDKey, "req-9")
	Info(ctx, "hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.Equal(t, "v", line["k"])
	assert.NotContains(t, line, "span_id")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}
