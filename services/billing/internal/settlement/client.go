// Package settlement запрашивает у PortOne авторитетный статус платежа.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/membership-billing/pkg/circuitbreaker"
	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/pkg/tracing"
	"example.com/membership-billing/services/billing/internal/domain"
)

// maxBodySize ограничивает чтение ответа шлюза.
const maxBodySize = 1 << 20

// Config — настройки клиента.
type Config struct {
	APIBase   string
	APISecret string
	Timeout   time.Duration
}

// Client выполняет GET /payments/{id}. Повторов нет: ими управляет
// вызывающая сторона по классу ошибки.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP клиент (используется в тестах).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker задаёт circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient создаёт клиент PortOne.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.APIBase, "/"),
		secret:  cfg.APISecret,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New("portone"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured сообщает, задан ли API secret.
func (c *Client) Configured() bool {
	return c.secret != ""
}

// Query возвращает нормализованные данные платежа.
//
// Ошибки:
//   - domain.ErrSettlementNotFound: шлюз вернул пустой список платежей
//   - domain.ErrSettlementUnavailable: сеть, не-2xx, неожиданная структура
//     или открытый circuit breaker
func (c *Client) Query(ctx context.Context, paymentID string) (*domain.SettlementRecord, error) {
	ctx, span := tracing.Tracer().Start(ctx, "portone.GetPayment",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("payment.id", paymentID)),
	)
	defer span.End()

	start := time.Now()
	var rec *domain.SettlementRecord

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rec, err = c.fetch(ctx, paymentID)
		return err
	}, isOutage)

	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.SettlementRequests.WithLabelValues("ok").Inc()
		span.SetAttributes(attribute.String("payment.status", rec.Status))
		return rec, nil
	case errors.Is(err, domain.ErrSettlementNotFound):
		metrics.SettlementRequests.WithLabelValues("not_found").Inc()
		return nil, err
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.SettlementRequests.WithLabelValues("breaker_open").Inc()
		err = fmt.Errorf("%w: %v", domain.ErrSettlementUnavailable, err)
	default:
		metrics.SettlementRequests.WithLabelValues("unavailable").Inc()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Ctx(ctx).Warn().
		Err(err).
		Str("payment_id", paymentID).
		Msg("Не удалось получить платёж из PortOne")

	return nil, err
}

func (c *Client) fetch(ctx context.Context, paymentID string) (*domain.SettlementRecord, error) {
	endpoint := c.baseURL + "/payments/" + url.PathEscape(paymentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSettlementUnavailable, err)
	}
	req.Header.Set("Authorization", "PortOne "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSettlementUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: чтение ответа: %v", domain.ErrSettlementUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", domain.ErrSettlementUnavailable, resp.StatusCode)
	}

	return normalize(body)
}

// isOutage: "не найден" не считается сбоем шлюза.
func isOutage(err error) bool {
	return !errors.Is(err, domain.ErrSettlementNotFound)
}
