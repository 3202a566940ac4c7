package middleware

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"example.com/membership-billing/pkg/logger"
)

// Ключи metadata.
const (
	TraceIDKey       = "x-trace-id"
	CorrelationIDKey = "x-correlation-id"
)

// TracingUnaryInterceptor берёт trace_id и correlation_id из metadata
// (или генерирует trace_id) и кладёт их в контекст логгера.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return handler(contextWithIDs(ctx), req)
	}
}

func contextWithIDs(ctx context.Context) context.Context {
	md, _ := metadata.FromIncomingContext(ctx)

	traceID := firstValue(md, TraceIDKey)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return logger.NewContextWithIDs(ctx, traceID, firstValue(md, CorrelationIDKey))
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
