package middleware

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"example.com/membership-billing/pkg/logger"
)

// LoggingUnaryInterceptor логирует завершение RPC. Успешные вызовы идут
// на уровне debug: оркестратор опрашивает health каждые несколько секунд.
func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		log := logger.FromContext(ctx)
		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.
			Str("grpc_method", info.FullMethod).
			Str("grpc_code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC запрос обработан")

		return resp, err
	}
}
