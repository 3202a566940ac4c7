// Billing Service — оплата членства через PortOne: каталог тарифов,
// создание попыток оплаты, подтверждение покупателем, вебхуки шлюза и
// асинхронная сверка, которая гарантирует однократную активацию.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/membership-billing/pkg/config"
	dbpkg "example.com/membership-billing/pkg/db"
	"example.com/membership-billing/pkg/healthcheck"
	"example.com/membership-billing/pkg/jwt"
	"example.com/membership-billing/pkg/kafka"
	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/pkg/outbox"
	"example.com/membership-billing/pkg/tracing"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/handler"
	"example.com/membership-billing/services/billing/internal/health"
	"example.com/membership-billing/services/billing/internal/middleware"
	"example.com/membership-billing/services/billing/internal/reconcile"
	"example.com/membership-billing/services/billing/internal/repository"
	"example.com/membership-billing/services/billing/internal/service"
	"example.com/membership-billing/services/billing/internal/settlement"
	"example.com/membership-billing/services/billing/internal/webhook"
)

const (
	serviceName = "billing-service"

	topicPartitions  = 3
	topicReplication = 1

	healthInterval  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("http_addr", cfg.HTTP.Addr()).
		Bool("portone_enabled", cfg.PortOne.Enabled).
		Bool("stripe_enabled", cfg.Stripe.Enabled).
		Msg("Запуск Billing Service")

	if cfg.Stripe.Enabled {
		log.Warn().Msg("STRIPE_ENABLED=true, но подписочный бэкенд Stripe в этой сборке недоступен")
	}
	if cfg.PortOne.Enabled && cfg.PortOne.APISecret == "" {
		log.Warn().Msg("PORTONE_API_SECRET не задан: подтверждение оплаты будет отвечать ошибкой конфигурации")
	}
	if cfg.PortOne.WebhookSecret == "" {
		log.Warn().Msg("PORTONE_WEBHOOK_SECRET не задан: все вебхуки будут отклоняться")
	}

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Хранилища ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if cfg.MySQL.AutoMigrate {
		if err := repository.AutoMigrate(db); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции схемы")
		}
		log.Info().Msg("Схема БД актуальна")
	}

	// Redis нужен для rate limit, идемпотентности prepare и blacklist.
	// Без него сервис работает, эти функции деградируют.
	rootCtx := context.Background()
	var rdb redis.UniversalClient
	redisClient, err := dbpkg.ConnectRedis(rootCtx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis недоступен, продолжаем без него")
		_ = redisClient.Close()
	} else {
		rdb = redisClient
		log.Info().Msg("Подключение к Redis установлено")
	}

	checks := []healthcheck.Check{healthcheck.MySQL(db)}
	if rdb != nil {
		checks = append(checks, healthcheck.Redis(rdb))
	}
	if cfg.Kafka.Enabled() {
		checks = append(checks, healthcheck.Kafka(cfg.Kafka.Brokers))
	}
	readiness := healthcheck.Composite(checks...)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var serversWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(readiness)))
		serversWg.Add(1)
		go func() {
			defer serversWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Бизнес-логика ===

	attemptRepo := repository.NewAttemptRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)
	outboxRepo := outbox.NewRepository(db)

	settlementClient := settlement.NewClient(settlement.Config{
		APIBase:   cfg.PortOne.APIBase,
		APISecret: cfg.PortOne.APISecret,
		Timeout:   cfg.PortOne.Timeout,
	})

	activator := service.NewMembershipActivator(membershipRepo, cfg.Membership.Validity)
	finalizer := service.NewFinalizer(attemptRepo, settlementClient, activator)
	confirmation := service.NewConfirmationService(attemptRepo, finalizer, service.GatewayStatus{
		Enabled:    cfg.PortOne.Enabled,
		Configured: settlementClient.Configured(),
	})
	checkout := service.NewCheckoutService(attemptRepo, domain.DefaultCatalog(), rdb, cfg.PortOne.Enabled)
	webhooks := service.NewWebhookService(webhook.NewVerifier(cfg.PortOne.WebhookSecret), attemptRepo, eventRepo)
	reconcileTask := service.NewReconcileTask(attemptRepo, finalizer, settlementClient.Configured())

	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	var workersWg sync.WaitGroup
	runWorker := func(name string, fn func(ctx context.Context)) {
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("worker", name).Msg("Паника в фоновом воркере")
				}
			}()
			fn(logger.WithLogger(ctx, logger.With().Str("worker", name).Logger()))
		}()
	}

	// === Очередь сверки: Kafka или локальная ===

	policy := reconcile.Policy(cfg.Reconcile.MaxRetries, cfg.Reconcile.RetryDelay)
	jobHandler := reconcile.NewMessageHandler(reconcileTask)

	var publisher outbox.Publisher
	var kafkaProducer *kafka.Producer
	var kafkaConsumer *kafka.Consumer

	if cfg.Kafka.Enabled() {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		topicsCtx, topicsCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := kafka.EnsureTopics(topicsCtx, cfg.Kafka.Brokers,
			kafka.BillingTopics(topicPartitions, topicReplication)...); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
		topicsCancel()

		kafkaCfg := kafka.Config{Brokers: cfg.Kafka.Brokers, ConsumerGroup: cfg.Kafka.ConsumerGroup}

		kafkaProducer, err = kafka.NewProducer(kafkaCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}
		publisher = kafkaProducer

		kafkaConsumer, err = kafka.NewConsumer(kafkaCfg, kafka.TopicBillingReconcile, cfg.Kafka.ConsumerGroup)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		kafkaConsumer.SetDLQ(kafkaProducer)

		runWorker("reconcile-consumer", func(ctx context.Context) {
			if err := kafkaConsumer.ConsumeWithPolicy(ctx, jobHandler, policy); err != nil && !errors.Is(err, context.Canceled) {
				logger.Ctx(ctx).Error().Err(err).Msg("Ошибка consumer сверки")
			}
		})
	} else {
		log.Warn().Msg("Kafka не настроена, задачи сверки выполняются локальной очередью")

		dispatcher := reconcile.NewLocalDispatcher(cfg.Reconcile.LocalQueue, jobHandler, policy)
		publisher = dispatcher
		runWorker("reconcile-local", dispatcher.Run)
	}

	outboxWorker := outbox.NewWorker(outboxRepo, publisher, outbox.DefaultWorkerConfig())
	runWorker("outbox", outboxWorker.Run)

	sweeper := reconcile.NewSweeper(attemptRepo, reconcileTask, reconcile.SweeperConfig{
		Interval:   cfg.Reconcile.SweepInterval,
		StaleAfter: cfg.Reconcile.StaleAfter,
		MaxAge:     cfg.Reconcile.SweepMaxAge,
		BatchSize:  cfg.Reconcile.BatchSize,
	})
	runWorker("sweeper", sweeper.Run)

	// === Внутренний gRPC: health ===

	var healthServer *health.Server
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPC.Addr()).Msg("Ошибка создания gRPC listener")
		}
		healthServer = health.NewServer(readiness, healthInterval)
		runWorker("health", healthServer.Watch)

		serversWg.Add(1)
		go func() {
			defer serversWg.Done()
			log.Info().Str("addr", cfg.GRPC.Addr()).Msg("gRPC health сервер запущен")
			if err := healthServer.Serve(lis); err != nil {
				log.Error().Err(err).Msg("Ошибка gRPC сервера")
			}
		}()
	}

	// === HTTP API ===

	authMW, err := newAuthMiddleware(cfg.JWT, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации проверки токенов")
	}

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled && rdb != nil {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Limit:  cfg.RateLimit.RequestsLimit,
			Window: cfg.RateLimit.Window,
		})
	}

	router := handler.NewRouter(handler.RouterConfig{
		Checkout:       checkout,
		Confirmer:      confirmation,
		Webhooks:       webhooks,
		AuthMW:         authMW,
		RateLimitMW:    rateLimitMW,
		CORS:           middleware.DefaultCORSConfig(),
		ReadinessCheck: handler.ReadinessChecker(readiness),
		Debug:          cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serversWg.Add(1)
	go func() {
		defer serversWg.Done()
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(rootCtx, shutdownTimeout)
	defer shutdownCancel()

	// Сначала перестаём принимать запросы, затем останавливаем воркеры.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}
	if healthServer != nil {
		healthServer.GracefulStop()
	}

	cancel()
	workersWg.Wait()

	if kafkaConsumer != nil {
		log.Info().Int64("lag", kafkaConsumer.Lag()).Msg("Остановка consumer сверки")
		if err := kafkaConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
	}
	serversWg.Wait()

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Billing Service остановлен")
}

// newAuthMiddleware загружает публичный ключ и, если есть Redis,
// подключает blacklist отозванных токенов.
func newAuthMiddleware(cfg config.JWTConfig, rdb redis.UniversalClient) (*middleware.AuthMiddleware, error) {
	validator, err := jwt.NewValidator(jwt.Config{
		PublicKeyPath: cfg.PublicKeyPath,
		Issuer:        cfg.Issuer,
	})
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		validator.SetBlacklist(jwt.NewBlacklist(rdb))
	}
	return middleware.NewAuthMiddleware(validator), nil
}
