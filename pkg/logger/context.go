package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey — приватный тип ключей контекста.
type ctxKey string

const (
	traceIDKey       ctxKey = "trace_id"
	correlationIDKey ctxKey = "correlation_id"
	paymentIDKey     ctxKey = "payment_id"
	loggerKey        ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
func TraceIDFromContext(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

// WithCorrelationID добавляет correlation_id в контекст.
// Для вебхуков это webhook-id, для сверки — id попытки оплаты.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id из контекста.
func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithPaymentID добавляет payment_id в контекст, чтобы все записи
// по одной попытке оплаты можно было найти одним запросом.
func WithPaymentID(ctx context.Context, paymentID string) context.Context {
	return context.WithValue(ctx, paymentIDKey, paymentID)
}

// PaymentIDFromContext извлекает payment_id из контекста.
func PaymentIDFromContext(ctx context.Context) string {
	return stringValue(ctx, paymentIDKey)
}

// WithLogger кладёт настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный) с полями
// trace_id, correlation_id и payment_id, если они есть в контексте.
//
//	func (s *Service) Confirm(ctx context.Context, id string) {
//	    log := logger.FromContext(ctx)
//	    log.Info().Msg("Подтверждение оплаты")
//	}
func FromContext(ctx context.Context) zerolog.Logger {
	l := log
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	}

	lc := l.With()
	if v := TraceIDFromContext(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := CorrelationIDFromContext(ctx); v != "" {
		lc = lc.Str("correlation_id", v)
	}
	if v := PaymentIDFromContext(ctx); v != "" {
		lc = lc.Str("payment_id", v)
	}

	return lc.Logger()
}

// Ctx возвращает указатель на логгер из контекста.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs добавляет непустые trace_id и correlation_id.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func stringValue(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
