// Package metrics экспортирует Prometheus метрики сервиса биллинга
// и HTTP сервер для /metrics и health probes.
//
//	srv := metrics.NewServer(":9090", "membership-billing", metrics.WithReadinessCheck(check))
//	go srv.Start()
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/membership-billing/pkg/logger"
)

// =============================================================================
// HTTP метрики
// =============================================================================

var (
	// RequestsTotal — количество HTTP запросов по маршруту и статусу.
	// PromQL: rate(requests_total{service="membership-billing"}[5m])
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — latency запросов. Верхний bucket покрывает
	// таймаут PortOne, т.к. complete синхронно ждёт ответа шлюза.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// Метрики биллинга
// =============================================================================

var (
	// ConfirmationOutcomes — исходы политики подтверждения оплаты.
	// source: complete | reconcile; outcome: completed, mismatch, ...
	ConfirmationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_confirmation_outcomes_total",
			Help: "Исходы подтверждения оплаты по источнику",
		},
		[]string{"source", "outcome"},
	)

	// WebhookEvents — результаты обработки вебхуков.
	// result: rejected | duplicate | provisional | failed | canceled | ignored
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Обработанные вебхуки платёжного шлюза",
		},
		[]string{"result"},
	)

	// SettlementRequests — запросы к API шлюза.
	// result: ok | not_found | unavailable | circuit_open
	SettlementRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_settlement_requests_total",
			Help: "Запросы статуса платежа к шлюзу",
		},
		[]string{"result"},
	)

	// SettlementDuration — latency запросов к шлюзу.
	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_settlement_request_duration_seconds",
			Help:    "Время ответа API шлюза",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// ReconcileJobs — результаты задач сверки.
	// result: done | retry | dead_letter
	ReconcileJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconcile_jobs_total",
			Help: "Результаты задач асинхронной сверки",
		},
		[]string{"result"},
	)

	// MembershipActivations — активации членства по тарифу.
	MembershipActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_membership_activations_total",
			Help: "Активации членства по тарифу",
		},
		[]string{"plan"},
	)
)

// =============================================================================
// Metrics server
// =============================================================================

// ReadinessChecker возвращает nil, если сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер для /metrics, /healthz и /readyz.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option настраивает Server.
type Option func(*Server)

// WithReadinessCheck задаёт проверку для /readyz. Ошибка даёт 503.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт metrics server на addr.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// liveness: процесс отвечает
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "alive")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.readinessCheck == nil {
			writeStatus(w, http.StatusOK, "ready")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.readinessCheck(ctx); err != nil {
			// детали ошибки наружу не отдаём
			writeStatus(w, http.StatusServiceUnavailable, "not_ready")
			logger.Warn().Err(err).Str("service", s.service).Msg("Проверка готовности не пройдена")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})

	return mux
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}

// Handler возвращает маршруты сервера (для тестов и встраивания).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start запускает сервер. Блокирующий вызов.
func (s *Server) Start() error {
	logger.Info().Str("service", s.service).Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// Запись метрик
// =============================================================================

// RecordRequest записывает метрики одного запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// GinMetricsMiddleware собирает requests_total и request_duration_seconds.
// Маршрут берётся по шаблону gin, а не по фактическому пути.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordRequest(service, route, status, time.Since(start))
	}
}
