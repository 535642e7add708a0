package logging

import "context"

type ctxKey int

const (
	ctxKeyCorrelationID ctxKey = iota
	ctxKeyTraceID
	ctxKeyLogger
)

// WithCorrelationIDCtx attaches a correlation ID to the context.
func WithCorrelationIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationIDFromCtx returns the context's correlation ID, or "".
func CorrelationIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// WithTraceIDCtx attaches a trace ID to the context.
func WithTraceIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

// TraceIDFromCtx returns the context's trace ID, or "".
func TraceIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyTraceID).(string)
	return id
}

// WithLoggerCtx attaches a logger to the context.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, l)
}

// LoggerFromCtx returns the logger attached to the context, or nil.
func LoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(ctxKeyLogger).(*Logger)
	return l
}

// FromCtx returns the context's logger, falling back to the global logger
// tagged with any IDs carried by the context.
func FromCtx(ctx context.Context) *Logger {
	if l := LoggerFromCtx(ctx); l != nil {
		return l
	}
	return tagFromCtx(ctx, Global())
}

// ContextLogger resolves a logger in priority order: the context's logger,
// then base, then the global logger; the result is tagged with any IDs
// carried by the context.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l := LoggerFromCtx(ctx)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	return tagFromCtx(ctx, l)
}

// PropagateIDs copies the logger's correlation and trace IDs onto the
// context so downstream code can recover them without the logger.
func PropagateIDs(ctx context.Context, l *Logger) context.Context {
	if l == nil {
		return ctx
	}
	if id := l.CorrelationID(); id != "" {
		ctx = WithCorrelationIDCtx(ctx, id)
	}
	if id := l.TraceID(); id != "" {
		ctx = WithTraceIDCtx(ctx, id)
	}
	return ctx
}

func tagFromCtx(ctx context.Context, l *Logger) *Logger {
	if id := CorrelationIDFromCtx(ctx); id != "" {
		l = l.WithCorrelationID(id)
	}
	if id := TraceIDFromCtx(ctx); id != "" {
		l = l.WithTraceID(id)
	}
	return l
}
