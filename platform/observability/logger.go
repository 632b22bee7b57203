package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKeyLogger struct{}

type ctxKeyFields struct{}

// ContextWithFields добавляет поля, которые L допишет к каждой записи в рамках ctx
// (user_id после аутентификации, order_id в задаче и т.п.)
func ContextWithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyFields{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxKeyFields{}, merged)
}

// L возвращает logger с trace_id/span_id и полями из ContextWithFields
func L(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.NewNop()
	}
	fields, _ := ctx.Value(ctxKeyFields{}).([]zap.Field)
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields[:len(fields):len(fields)],
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

func withLogger(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger{}, log)
}

// LoggerFromContext возвращает logger запроса, положенный HTTPMiddleware, иначе L(ctx, fallback).
// Поля, добавленные после middleware, дописываются к logger запроса.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKeyLogger{}).(*zap.Logger); ok {
		if fields, _ := ctx.Value(ctxKeyFields{}).([]zap.Field); len(fields) > 0 {
			return l.With(fields...)
		}
		return l
	}
	return L(ctx, fallback)
}
