// Package health — внутренний gRPC порт для health checking оркестратора.
// Статус следует readiness проверке зависимостей.
package health

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"example.com/membership-billing/pkg/healthcheck"
	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/middleware"
)

// ServiceName — имя сервиса в grpc.health.v1.
const ServiceName = "membership.billing"

// checkTimeout ограничивает одну readiness проверку.
const checkTimeout = 5 * time.Second

// Server — gRPC сервер со стандартными health и reflection.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	check    healthcheck.Check
	interval time.Duration
}

// NewServer создаёт сервер. До первой проверки статус NOT_SERVING.
func NewServer(check healthcheck.Check, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(middleware.UnaryChain()...),
		grpc.ChainStreamInterceptor(middleware.StreamChain()...),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Server{grpc: srv, health: hs, check: check, interval: interval}
}

// Serve принимает соединения на lis до GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Watch обновляет статус по readiness проверке до отмены ctx.
func (s *Server) Watch(ctx context.Context) {
	s.Refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Refresh выполняет одну проверку и выставляет статус.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := s.check(checkCtx)
		cancel()
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Readiness проверка не прошла")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// GracefulStop переводит статус в NOT_SERVING и дожидается активных RPC.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
