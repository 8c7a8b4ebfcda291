package engine

import (
	"context"

	"github.com/google/uuid"
)

// Log field names shared by every engine operation.
const (
	FieldTraceID    = "trace_id"
	FieldOperation  = "operation"
	FieldDurationMs = "duration_ms"
)

type traceIDKey struct{}

// WithTraceID returns a context carrying traceID for log correlation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace id carried by ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// getTraceID returns the caller's trace id, generating one when absent.
func getTraceID(ctx context.Context) string {
	if id := TraceIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.New().String()
}
