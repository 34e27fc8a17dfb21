// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// Logger wraps slog.Logger for background code that has no request context.
type Logger struct {
	*slog.Logger
}

// GlobalLogger writes JSON to stdout at LOG_LEVEL (info when unset).
// Request-scoped logging lives in the middleware package.
var GlobalLogger = &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: envLevel(os.Getenv("LOG_LEVEL")),
}))}

func envLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// traceAttrs ties a log line to the span active in ctx, if any.
func traceAttrs(ctx context.Context, attrs []any) []any {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}

func withFields(attrs []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// RepoLogger logs writes to one table.
type RepoLogger struct {
	table  string
	logger *Logger
}

func NewRepoLogger(table string) *RepoLogger {
	return &RepoLogger{table: table, logger: GlobalLogger}
}

func (l *RepoLogger) write(ctx context.Context, op string, fields map[string]interface{}) {
	attrs := traceAttrs(ctx, []any{slog.String("table", l.table), slog.String("operation", op)})
	l.logger.DebugContext(ctx, "repository "+op, withFields(attrs, fields)...)
}

// LogCreate records an inserted row at debug level.
func (l *RepoLogger) LogCreate(ctx context.Context, fields map[string]interface{}) {
	l.write(ctx, "create", fields)
}

// LogUpdate records an updated row at debug level.
func (l *RepoLogger) LogUpdate(ctx context.Context, fields map[string]interface{}) {
	l.write(ctx, "update", fields)
}

func (l *RepoLogger) LogError(ctx context.Context, err error, op string) {
	l.logger.ErrorContext(ctx, "repository error", traceAttrs(ctx, []any{
		slog.String("table", l.table),
		slog.String("operation", op),
		slog.Any("error", err),
	})...)
}

// WSLogger logs viewer tabs joining and leaving broadcast rooms.
type WSLogger struct {
	hub    string
	logger *Logger
}

func NewWSLogger(hub string) *WSLogger {
	return &WSLogger{hub: hub, logger: GlobalLogger}
}

func (l *WSLogger) attrs(broadcastID uint, viewerID string) []any {
	return []any{
		slog.String("hub", l.hub),
		slog.Uint64("broadcast_id", uint64(broadcastID)),
		slog.String("viewer_id", viewerID),
	}
}

func (l *WSLogger) LogConnect(ctx context.Context, broadcastID uint, viewerID string) {
	l.logger.InfoContext(ctx, "viewer joined", l.attrs(broadcastID, viewerID)...)
}

func (l *WSLogger) LogDisconnect(ctx context.Context, broadcastID uint, viewerID string, reason string) {
	l.logger.InfoContext(ctx, "viewer left", append(l.attrs(broadcastID, viewerID), slog.String("reason", reason))...)
}

// LogError logs a failed websocket step such as "read", "register" or "leave".
func (l *WSLogger) LogError(ctx context.Context, broadcastID uint, viewerID string, err error, step string) {
	l.logger.ErrorContext(ctx, "websocket error", append(l.attrs(broadcastID, viewerID),
		slog.String("step", step),
		slog.Any("error", err),
	)...)
}

// LogAsyncOperationStart marks the start of background work such as a
// scheduler job or a recording callback.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := traceAttrs(ctx, []any{slog.String("operation", operation), slog.String("phase", "start")})
	GlobalLogger.InfoContext(ctx, "async operation started", withFields(attrs, fields)...)
}

func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := traceAttrs(ctx, []any{slog.String("operation", operation), slog.String("phase", "end")})
	GlobalLogger.InfoContext(ctx, "async operation completed", withFields(attrs, fields)...)
}

func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := traceAttrs(ctx, []any{
		slog.String("operation", operation),
		slog.String("phase", "error"),
		slog.Any("error", err),
	})
	GlobalLogger.ErrorContext(ctx, "async operation failed", withFields(attrs, fields)...)
}

// LogAsyncOperationWarn logs a recoverable problem; the operation carries on.
func LogAsyncOperationWarn(ctx context.Context, operation string, msg string, fields map[string]interface{}) {
	attrs := traceAttrs(ctx, []any{slog.String("operation", operation), slog.String("phase", "warn")})
	GlobalLogger.WarnContext(ctx, msg, withFields(attrs, fields)...)
}
