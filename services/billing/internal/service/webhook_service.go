package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
	"example.com/membership-billing/services/billing/internal/webhook"
)

// WebhookResult — чем закончилась обработка доставки.
type WebhookResult string

const (
	WebhookRejected    WebhookResult = "rejected"
	WebhookIgnored     WebhookResult = "ignored"
	WebhookDuplicate   WebhookResult = "duplicate"
	WebhookUnknown     WebhookResult = "unknown_attempt"
	WebhookNoop        WebhookResult = "noop"
	WebhookProvisional WebhookResult = "provisional"
	WebhookClosed      WebhookResult = "closed"
	WebhookFailed      WebhookResult = "error"
)

// WebhookRequest — сырые данные входящего вебхука.
type WebhookRequest struct {
	Body        []byte
	ContentType string
	ID          string
	Timestamp   string
	Signature   string
}

// Verifier проверяет подпись вебхука.
type Verifier interface {
	Verify(body []byte, id, timestamp, signature string) error
}

// WebhookService обрабатывает уведомления PortOne. Вебхук не является
// доказательством оплаты: положительный статус только отмечает попытку
// и ставит задачу сверки.
type WebhookService struct {
	verifier Verifier
	attempts repository.AttemptRepository
	events   repository.WebhookEventRepository
}

// NewWebhookService создаёт сервис вебхуков. events может быть nil.
func NewWebhookService(verifier Verifier, attempts repository.AttemptRepository, events repository.WebhookEventRepository) *WebhookService {
	return &WebhookService{
		verifier: verifier,
		attempts: attempts,
		events:   events,
	}
}

// Handle возвращает ошибку только при провале проверки подлинности.
// Все остальные исходы подтверждаются шлюзу ответом 200.
func (s *WebhookService) Handle(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	ctx = logger.WithCorrelationID(ctx, req.ID)

	if err := s.authenticate(req); err != nil {
		logger.Security().
			Err(err).
			Str("webhook_id", req.ID).
			Str("content_type", req.ContentType).
			Msg("Вебхук PortOne отклонён")
		metrics.WebhookEvents.WithLabelValues(string(WebhookRejected)).Inc()
		return WebhookRejected, err
	}

	result, procErr := s.process(ctx, req)
	metrics.WebhookEvents.WithLabelValues(string(result)).Inc()

	if procErr != nil {
		logger.Ctx(ctx).Error().Err(procErr).Msg("Ошибка обработки вебхука PortOne")
	}
	if s.events != nil && result != WebhookIgnored && result != WebhookDuplicate {
		if err := s.events.MarkProcessed(ctx, req.ID, procErr); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось обновить журнал вебхуков")
		}
	}

	return result, nil
}

func (s *WebhookService) authenticate(req WebhookRequest) error {
	if err := webhook.CheckContentType(req.ContentType); err != nil {
		return err
	}
	return s.verifier.Verify(req.Body,
		strings.TrimSpace(req.ID),
		strings.TrimSpace(req.Timestamp),
		strings.TrimSpace(req.Signature))
}

func (s *WebhookService) process(ctx context.Context, req WebhookRequest) (WebhookResult, error) {
	log := logger.FromContext(ctx)

	payload, err := parsePayload(req.Body)
	if err != nil {
		log.Warn().Err(err).Msg("Тело вебхука не JSON объект, игнорируем")
		return WebhookIgnored, nil
	}

	paymentID := payload.correlationID()
	status := strings.ToUpper(strings.TrimSpace(payload.status()))
	if paymentID == "" {
		log.Warn().Str("gateway_status", status).Msg("В вебхуке нет paymentId, игнорируем")
		return WebhookIgnored, nil
	}

	ctx = logger.WithPaymentID(ctx, paymentID)
	log = logger.FromContext(ctx)

	if s.events != nil {
		inserted, err := s.events.Record(ctx, &domain.WebhookEvent{
			WebhookID: req.ID,
			PaymentID: paymentID,
			Status:    status,
			Payload:   req.Body,
		})
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Не удалось записать вебхук в журнал, продолжаем")
		case !inserted:
			log.Info().Msg("Повторная доставка вебхука, пропускаем")
			return WebhookDuplicate, nil
		}
	}

	attempt, err := s.attempts.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			log.Info().Msg("Попытка оплаты из вебхука не найдена")
			return WebhookUnknown, nil
		}
		return WebhookFailed, fmt.Errorf("загрузка попытки оплаты: %w", err)
	}

	if attempt.Status == domain.StatusPaid {
		return WebhookNoop, nil
	}

	if domain.IsPaidEquivalent(status) {
		flipped, err := s.attempts.MarkProvisionallyPaid(ctx, attempt.ID)
		if err != nil {
			return WebhookFailed, fmt.Errorf("предварительная отметка оплаты: %w", err)
		}
		if !flipped {
			return WebhookNoop, nil
		}
		log.Info().Str("gateway_status", status).Msg("Оплата отмечена по вебхуку, поставлена задача сверки")
		return WebhookProvisional, nil
	}

	if target, ok := domain.NegativeTarget(status); ok {
		closed, err := s.attempts.MarkClosed(ctx, attempt.ID, target, domain.StatusPending)
		if err != nil {
			return WebhookFailed, fmt.Errorf("закрытие попытки оплаты: %w", err)
		}
		if !closed {
			return WebhookNoop, nil
		}
		log.Info().Str("gateway_status", status).Str("to", string(target)).Msg("Попытка оплаты закрыта по вебхуку")
		return WebhookClosed, nil
	}

	log.Debug().Str("gateway_status", status).Msg("Статус вебхука не меняет попытку")
	return WebhookNoop, nil
}

// webhookPayload — тело уведомления. PortOne V2 кладёт поля в data,
// старый формат держит их на верхнем уровне.
type webhookPayload map[string]any

func parsePayload(body []byte) (webhookPayload, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("пустое тело")
	}
	return p, nil
}

func (p webhookPayload) correlationID() string {
	return p.first("paymentId", "merchantOrderRef", "merchant_uid")
}

func (p webhookPayload) status() string {
	return p.first("status")
}

func (p webhookPayload) first(keys ...string) string {
	for _, scope := range []map[string]any{p, p.data()} {
		for _, k := range keys {
			if s, ok := scope[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func (p webhookPayload) data() map[string]any {
	d, _ := p["data"].(map[string]any)
	return d
}
