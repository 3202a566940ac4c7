package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/metrics"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/repository"
)

// ErrManualReview — попытку нельзя довести автоматически.
var ErrManualReview = errors.New("требуется ручная проверка")

// RetryableError помечает ошибку задачи, которую стоит повторить.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "повторяемая ошибка: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable классифицирует ошибку задачи сверки для политики повторов.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ReconcileTask — асинхронная сверка одной попытки оплаты. Безопасна
// при повторной доставке: подтверждённая попытка завершает задачу сразу.
type ReconcileTask struct {
	attempts   repository.AttemptRepository
	finalizer  *Finalizer
	configured bool
}

// NewReconcileTask создаёт задачу. configured=false означает, что API
// secret шлюза не задан и сверка невозможна.
func NewReconcileTask(attempts repository.AttemptRepository, finalizer *Finalizer, configured bool) *ReconcileTask {
	return &ReconcileTask{
		attempts:   attempts,
		finalizer:  finalizer,
		configured: configured,
	}
}

// Run выполняет задачу. nil означает, что задача завершена (в том числе
// без изменений); *RetryableError означает, что её нужно повторить.
func (t *ReconcileTask) Run(ctx context.Context, job domain.ReconcileJob) error {
	ctx = logger.WithPaymentID(ctx, job.PaymentID)
	log := logger.FromContext(ctx).With().Str("source", job.Source).Logger()

	err := t.run(ctx, job)
	switch {
	case err == nil:
		metrics.ReconcileJobs.WithLabelValues("done").Inc()
	case IsRetryable(err):
		metrics.ReconcileJobs.WithLabelValues("retry").Inc()
		log.Warn().Err(err).Msg("Сверка не удалась, будет повтор")
	default:
		metrics.ReconcileJobs.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("Сверка завершилась ошибкой")
	}
	return err
}

func (t *ReconcileTask) run(ctx context.Context, job domain.ReconcileJob) error {
	log := logger.FromContext(ctx)

	if job.PaymentID == "" {
		return fmt.Errorf("%w: пустой paymentId в задаче", ErrManualReview)
	}
	if !t.configured {
		return domain.ErrGatewayNotConfigured
	}

	attempt, err := t.attempts.GetByID(ctx, job.PaymentID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			log.Warn().Msg("Попытка оплаты для сверки не найдена")
			return nil
		}
		return &RetryableError{Err: err}
	}

	source := SourceWebhook
	if job.Source == domain.JobSourceSweep {
		source = SourceSweep
	}

	out := t.finalizer.Apply(ctx, attempt, source)
	switch out.Kind {
	case domain.KindCompleted, domain.KindAlreadyCompleted:
		return nil
	case domain.KindSettlementUnavailable, domain.KindInternal:
		return &RetryableError{Err: out.Err}
	case domain.KindMismatch:
		return fmt.Errorf("%w: %w", ErrManualReview, out.Err)
	default:
		log.Info().Str("outcome", string(out.Kind)).Msg("Сверка завершена без активации")
		return nil
	}
}
