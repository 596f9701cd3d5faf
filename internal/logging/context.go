package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if s, ok := ctx.Value(sessionCtxKey{}).(sessionRef); ok {
		fields = append(fields,
			zap.String("session.id", s.id),
			zap.Int("session.number", s.number),
		)
	}

	if id, ok := ctx.Value(featureCtxKey{}).(int); ok {
		fields = append(fields, zap.Int("feature.id", id))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type sessionCtxKey struct{}
type featureCtxKey struct{}
type requestCtxKey struct{}

type sessionRef struct {
	id     string
	number int
}

// WithSession tags the context with the running session.
func WithSession(ctx context.Context, id string, number int) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sessionRef{id: id, number: number})
}

// SessionIDFromContext extracts the session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(sessionRef); ok {
		return s.id
	}
	return ""
}

// WithFeatureID tags the context with the feature being worked on.
func WithFeatureID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, featureCtxKey{}, id)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
