package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	traceIDKey
	spanIDKey
	requestIDKey
)

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or Nop, with the trace,
// span and request IDs of ctx attached.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(loggerKey).(*Logger)
	if !ok {
		return Nop()
	}

	ids := []struct{ field, value string }{
		{TraceID, GetTraceID(ctx)},
		{SpanID, GetSpanID(ctx)},
		{RequestID, GetRequestID(ctx)},
	}
	var zc zerolog.Context
	enriched := false
	for _, id := range ids {
		if id.value == "" {
			continue
		}
		if !enriched {
			zc = logger.zlog.With()
			enriched = true
		}
		zc = zc.Str(id.field, id.value)
	}
	if !enriched {
		return logger
	}
	return &Logger{zlog: zc.Logger()}
}

func stringValue(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithTraceID records the W3C trace ID of the current span.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// GetTraceID returns the ID stored by WithTraceID, or "".
func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

// WithSpanID records the ID of the current span.
func WithSpanID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, spanIDKey, id)
}

// GetSpanID returns the ID stored by WithSpanID, or "".
func GetSpanID(ctx context.Context) string { return stringValue(ctx, spanIDKey) }

// WithRequestID records the request ID assigned by HTTPMiddleware.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the ID stored by WithRequestID, or "".
func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }
