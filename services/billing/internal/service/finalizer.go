// Package service содержит бизнес-логику сервиса биллинга.
package service

import (
	"context"
	"errors"
	"time"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
)

// Источники вызова политики подтверждения (метка метрики).
const (
	SourceConfirm = "confirm"
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
)

// SettlementQuerier — авторитетный источник статуса платежа.
type SettlementQuerier interface {
	Query(ctx context.Context, paymentID string) (*domain.SettlementRecord, error)
}

// Activator активирует членство внутри транзакции подтверждения.
type Activator interface {
	Activate(ctx context.Context, userID string, plan domain.PlanID, now time.Time) error
}

// Finalizer — единая политика подтверждения оплаты. Её применяют
// ConfirmationService и ReconcileTask.
type Finalizer struct {
	attempts   repository.AttemptRepository
	settlement SettlementQuerier
	activator  Activator
	now        func() time.Time
}

// NewFinalizer создаёт Finalizer.
func NewFinalizer(attempts repository.AttemptRepository, settlement SettlementQuerier, activator Activator) *Finalizer {
	return &Finalizer{
		attempts:   attempts,
		settlement: settlement,
		activator:  activator,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Apply доводит попытку до терминального состояния по данным шлюза.
//
//  1. paid с activated_at: already_completed, без повторной активации
//  2. failed или canceled: wrong_status
//  3. запрос в шлюз: gateway_not_found или settlement_unavailable
//  4. статус не paid-эквивалентный: попытка закрывается как failed;
//     при обходе закрывают только FAILED, CANCELLED и REFUNDED, а
//     незавершённый платёж (READY и т.п.) оставляет попытку как есть
//  5. сумма или валюта не совпали: mismatch, строка не меняется
//  6. CAS на activated_at и активация членства в одной транзакции
func (f *Finalizer) Apply(ctx context.Context, attempt *domain.PaymentAttempt, source string) domain.Outcome {
	out := f.apply(ctx, attempt, source)
	metrics.ConfirmationOutcomes.WithLabelValues(source, string(out.Kind)).Inc()
	return out
}

func (f *Finalizer) apply(ctx context.Context, attempt *domain.PaymentAttempt, source string) domain.Outcome {
	log := logger.FromContext(ctx).With().
		Str("status", string(attempt.Status)).
		Logger()

	if attempt.IsCompleted() {
		return domain.Outcome{Kind: domain.KindAlreadyCompleted, Attempt: attempt}
	}
	if !attempt.CanFinalize() {
		return domain.Fail(domain.KindWrongStatus, attempt, domain.ErrWrongStatus)
	}

	rec, err := f.settlement.Query(ctx, attempt.ID)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementNotFound) {
			return domain.Fail(domain.KindGatewayNotFound, attempt, err)
		}
		return domain.Fail(domain.KindSettlementUnavailable, attempt, err)
	}

	if !rec.IsPaid() {
		target := domain.StatusFailed
		if source == SourceSweep {
			negative, ok := domain.NegativeTarget(rec.Status)
			if !ok {
				log.Info().Str("gateway_status", rec.Status).Msg("Платёж в шлюзе ещё не завершён, попытка не меняется")
				return domain.Outcome{Kind: domain.KindNotPaid, Attempt: attempt, Settlement: rec, Err: domain.ErrNotPaid}
			}
			target = negative
		}

		closed, err := f.attempts.MarkClosed(ctx, attempt.ID, target,
			domain.StatusPending, domain.StatusPaid)
		if err != nil {
			return domain.Fail(domain.KindInternal, attempt, err)
		}
		if !closed {
			return f.afterLostRace(ctx, attempt, rec)
		}

		log.Info().Str("gateway_status", rec.Status).Str("to", string(target)).Msg("Оплата не завершена, попытка закрыта")
		attempt.Status = target
		return domain.Outcome{Kind: domain.KindNotPaid, Attempt: attempt, Settlement: rec, Err: domain.ErrNotPaid}
	}

	if !attempt.Matches(rec) {
		log.Warn().
			Int64("expected_amount", attempt.Amount).
			Str("expected_currency", attempt.Currency).
			Int64("actual_amount", rec.Amount).
			Str("actual_currency", rec.Currency).
			Msg("Сумма или валюта платежа не совпадает, требуется ручная проверка")
		return domain.Outcome{Kind: domain.KindMismatch, Attempt: attempt, Settlement: rec, Err: domain.ErrAmountMismatch}
	}

	now := f.now()
	won, err := f.attempts.Finalize(ctx, attempt.ID, rec.GatewayID, now, func(txCtx context.Context) error {
		return f.activator.Activate(txCtx, attempt.UserID, attempt.Plan, now)
	})
	if err != nil {
		log.Error().Err(err).Msg("Ошибка подтверждения оплаты")
		return domain.Fail(domain.KindInternal, attempt, err)
	}
	if !won {
		return f.afterLostRace(ctx, attempt, rec)
	}

	metrics.MembershipActivations.WithLabelValues(string(attempt.Plan)).Inc()
	log.Info().
		Str("plan", string(attempt.Plan)).
		Str("gateway_payment_id", rec.GatewayID).
		Msg("Оплата подтверждена, членство активировано")

	attempt.Status = domain.StatusPaid
	attempt.ActivatedAt = &now
	if rec.GatewayID != "" {
		gid := rec.GatewayID
		attempt.GatewayPaymentID = &gid
	}
	return domain.Outcome{Kind: domain.KindCompleted, Attempt: attempt, Settlement: rec}
}

// afterLostRace перечитывает попытку, которую изменил другой вызов.
func (f *Finalizer) afterLostRace(ctx context.Context, attempt *domain.PaymentAttempt, rec *domain.SettlementRecord) domain.Outcome {
	current, err := f.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return domain.Fail(domain.KindInternal, attempt, err)
	}

	logger.Ctx(ctx).Debug().
		Str("status", string(current.Status)).
		Msg("Попытку оплаты изменил параллельный вызов")

	if current.IsCompleted() {
		return domain.Outcome{Kind: domain.KindAlreadyCompleted, Attempt: current, Settlement: rec}
	}
	return domain.Outcome{Kind: domain.KindWrongStatus, Attempt: current, Settlement: rec, Err: domain.ErrWrongStatus}
}
