package service

import (
	"context"
	"errors"
	"strings"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
)

// ErrPaymentIDRequired — в запросе нет paymentId.
var ErrPaymentIDRequired = errors.New("paymentId обязателен")

// GatewayStatus сообщает, включён ли шлюз и задан ли его секрет.
type GatewayStatus struct {
	Enabled    bool
	Configured bool
}

// ConfirmationService — синхронное подтверждение оплаты покупателем
// после возврата со страницы оплаты.
type ConfirmationService struct {
	attempts  repository.AttemptRepository
	finalizer *Finalizer
	gateway   GatewayStatus
}

// NewConfirmationService создаёт сервис подтверждения.
func NewConfirmationService(attempts repository.AttemptRepository, finalizer *Finalizer, gateway GatewayStatus) *ConfirmationService {
	return &ConfirmationService{
		attempts:  attempts,
		finalizer: finalizer,
		gateway:   gateway,
	}
}

// Confirm применяет политику подтверждения к попытке пользователя.
// Чужая попытка неотличима от несуществующей.
func (s *ConfirmationService) Confirm(ctx context.Context, userID, paymentID string) domain.Outcome {
	paymentID = strings.TrimSpace(paymentID)
	ctx = logger.WithPaymentID(ctx, paymentID)

	out, applied := s.confirm(ctx, userID, paymentID)
	if !applied {
		metrics.ConfirmationOutcomes.WithLabelValues(SourceConfirm, string(out.Kind)).Inc()
	}

	log := logger.FromContext(ctx)
	switch {
	case out.Kind.Success():
		log.Info().Str("outcome", string(out.Kind)).Msg("Подтверждение оплаты выполнено")
	case out.Kind == domain.KindInternal:
		log.Error().Err(out.Err).Msg("Ошибка подтверждения оплаты")
	default:
		log.Warn().Err(out.Err).Str("outcome", string(out.Kind)).Msg("Подтверждение оплаты отклонено")
	}

	return out
}

// confirm возвращает applied=true, если исход получен от Finalizer
// (он сам учитывает исход в метриках).
func (s *ConfirmationService) confirm(ctx context.Context, userID, paymentID string) (domain.Outcome, bool) {
	if !s.gateway.Enabled {
		return domain.Fail(domain.KindInvalidRequest, nil, domain.ErrGatewayDisabled), false
	}
	if paymentID == "" {
		return domain.Fail(domain.KindInvalidRequest, nil, ErrPaymentIDRequired), false
	}
	if !s.gateway.Configured {
		return domain.Fail(domain.KindInternal, nil, domain.ErrGatewayNotConfigured), false
	}

	attempt, err := s.attempts.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			return domain.Fail(domain.KindNotFound, nil, err), false
		}
		return domain.Fail(domain.KindInternal, nil, err), false
	}
	if !attempt.OwnedBy(userID) {
		return domain.Fail(domain.KindWrongOwner, attempt, domain.ErrWrongOwner), false
	}

	return s.finalizer.Apply(ctx, attempt, SourceConfirm), true
}
