package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func captureGlobal(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := GlobalLogger
	GlobalLogger = &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	t.Cleanup(func() { GlobalLogger = prev })
	return &buf
}

func TestAsyncLogCarriesTraceID(t *testing.T) {
	buf := captureGlobal(t)
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "job.scheduled_end")
	LogAsyncOperationError(ctx, "scheduled_end", errors.New("provider down"), map[string]interface{}{"broadcast_id": 7})
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, "error", line["phase"])
	assert.Equal(t, "provider down", line["error"])
	assert.EqualValues(t, 7, line["broadcast_id"])
}

func TestAsyncLogWithoutSpan(t *testing.T) {
	buf := captureGlobal(t)
	LogAsyncOperationStart(context.Background(), "vod_cleanup", nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "trace_id")
	assert.Equal(t, "vod_cleanup", line["operation"])
}

func TestWSLoggerUsesCurrentGlobal(t *testing.T) {
	buf := captureGlobal(t)
	NewWSLogger("broadcasts").LogDisconnect(context.Background(), 3, "anon-1", "closed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "viewer left", line["msg"])
	assert.Equal(t, "anon-1", line["viewer_id"])
	assert.Equal(t, "closed", line["reason"])
}

func TestEnvLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, envLevel("debug"))
	assert.Equal(t, slog.LevelWarn, envLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, envLevel(""))
	assert.Equal(t, slog.LevelInfo, envLevel("chatty"))
}
