// Package middleware содержит gRPC interceptors внутреннего порта
// (health checking и reflection).
package middleware

import (
	"google.golang.org/grpc"
)

// UnaryChain возвращает interceptors в порядке: recovery, tracing, logging.
// Recovery первым, чтобы паника в любом из следующих не уронила процесс.
func UnaryChain() []grpc.UnaryServerInterceptor {
	return []grpc.UnaryServerInterceptor{
		RecoveryUnaryInterceptor(),
		TracingUnaryInterceptor(),
		LoggingUnaryInterceptor(),
	}
}

// StreamChain — то же для stream RPC (health Watch).
func StreamChain() []grpc.StreamServerInterceptor {
	return []grpc.StreamServerInterceptor{
		RecoveryStreamInterceptor(),
	}
}
