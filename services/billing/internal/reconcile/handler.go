// Package reconcile доставляет задачи сверки до ReconcileTask: из Kafka,
// из локальной очереди и из периодического обхода.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/membership-billing/pkg/kafka"
	"example.com/membership-billing/services/billing/internal/domain"
	"example.com/membership-billing/services/billing/internal/service"
)

// ErrBadJob — сообщение не удалось разобрать в задачу.
var ErrBadJob = errors.New("некорректная задача сверки")

// Runner выполняет одну задачу сверки.
type Runner interface {
	Run(ctx context.Context, job domain.ReconcileJob) error
}

// NewMessageHandler разбирает сообщение топика billing.reconcile.
// Если paymentId в теле пуст, берётся ключ сообщения.
func NewMessageHandler(runner Runner) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		var job domain.ReconcileJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			return fmt.Errorf("%w: %v", ErrBadJob, err)
		}
		if job.PaymentID == "" {
			job.PaymentID = string(msg.Key)
		}
		return runner.Run(ctx, job)
	}
}

// Policy — политика повторов задачи сверки: повторяются только ошибки,
// помеченные service.RetryableError.
func Policy(maxRetries int, delay time.Duration) kafka.RetryPolicy {
	return kafka.RetryPolicy{
		MaxRetries: maxRetries,
		Delay:      delay,
		Retryable:  service.IsRetryable,
	}
}
