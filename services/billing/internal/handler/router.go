package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/services/billing/internal/middleware"
)

// serviceName — имя сервиса в спанах и метриках HTTP.
const serviceName = "billing"

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Checkout       Checkout
	Confirmer      Confirmer
	Webhooks       WebhookProcessor
	AuthMW         *middleware.AuthMiddleware
	RateLimitMW    *middleware.RateLimitMiddleware // nil отключает ограничение
	CORS           middleware.CORSConfig
	ReadinessCheck ReadinessChecker // опциональная проверка для /readyz
	Debug          bool
}

// Router — HTTP роутер биллинга.
type Router struct {
	engine         *gin.Engine
	billing        *BillingHandler
	webhooks       *WebhookHandler
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	readinessCheck ReadinessChecker
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.CustomRecovery(recoverPanic))
	engine.Use(middleware.CORS(cfg.CORS))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(metrics.GinMetricsMiddleware(serviceName))
	engine.Use(middleware.RequestLogging())

	r := &Router{
		engine:         engine,
		billing:        NewBillingHandler(cfg.Checkout, cfg.Confirmer),
		webhooks:       NewWebhookHandler(cfg.Webhooks),
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	billing := r.engine.Group("/api/v1/billing")

	// Вебхук без auth и rate limit: его подлинность проверяется подписью,
	// а отказ в приёме вызывает повторные доставки.
	billing.POST("/webhook/", r.webhooks.Receive)

	public := billing.Group("")
	if r.rateLimitMW != nil {
		public.Use(r.rateLimitMW.Handle())
	}
	public.GET("/plans/", r.billing.ListPlans)

	payment := billing.Group("/payment")
	if r.authMW != nil {
		payment.Use(r.authMW.Handle())
	}
	if r.rateLimitMW != nil {
		payment.Use(r.rateLimitMW.Handle())
	}
	{
		payment.POST("/prepare/", r.billing.Prepare)
		payment.POST("/complete/", r.billing.Complete)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck — процесс жив, раз отвечает.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — готовность принимать трафик.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func recoverPanic(c *gin.Context, recovered any) {
	logger.Ctx(c.Request.Context()).Error().
		Interface("panic", recovered).
		Str("path", c.Request.URL.Path).
		Msg("Паника в HTTP обработчике")
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal",
		Message: "Внутренняя ошибка сервера",
	})
}
