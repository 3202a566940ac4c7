// Package tracing настраивает OpenTelemetry с экспортом в Jaeger по OTLP/gRPC.
//
//	shutdown, err := tracing.InitTracer(tracing.Config{
//	    ServiceName:    "membership-billing",
//	    JaegerEndpoint: "localhost:4317",
//	    Enabled:        true,
//	})
//	defer shutdown(context.Background())
package tracing

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"example.com/membership-billing/pkg/logger"
)

// TracerName — имя трейсера для span'ов бизнес-логики биллинга.
const TracerName = "membership-billing"

// Config содержит настройки трассировки.
type Config struct {
	ServiceName    string
	Environment    string
	JaegerEndpoint string
	Enabled        bool
}

// ShutdownFunc сбрасывает накопленные span'ы и закрывает соединение.
type ShutdownFunc func(ctx context.Context) error

// Tracer возвращает трейсер биллинга из глобального провайдера.
// Без InitTracer это no-op трейсер.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// InitTracer регистрирует глобальный TracerProvider и W3C propagator.
func InitTracer(cfg Config) (ShutdownFunc, error) {
	log := logger.With().Str("service", cfg.ServiceName).Logger()

	if !cfg.Enabled || cfg.JaegerEndpoint == "" {
		log.Info().Msg("Tracing отключен")
		return func(context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(
		cfg.JaegerEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	env := cfg.Environment
	if env == "" {
		env = "development"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironmentName(env),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().Str("endpoint", cfg.JaegerEndpoint).Msg("Tracing инициализирован (Jaeger OTLP)")

	return func(ctx context.Context) error {
		log.Info().Msg("Завершение Tracing...")
		return errors.Join(tp.Shutdown(ctx), conn.Close())
	}, nil
}
