// Package repository содержит реализацию доступа к данным сервиса биллинга.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/membership-billing/pkg/kafka"
	"example.com/membership-billing/pkg/logger"
	"example.com/membership-billing/pkg/outbox"
	"example.com/membership-billing/services/billing/internal/domain"
)

// AttemptRepository определяет интерфейс для работы с попытками оплаты.
// Все изменения статуса выполняются условным UPDATE (compare-and-swap),
// результат bool сообщает, выиграл ли вызов гонку.
type AttemptRepository interface {
	// Create сохраняет новую попытку в статусе pending.
	Create(ctx context.Context, attempt *domain.PaymentAttempt) error

	// GetByID возвращает попытку по ID.
	GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error)

	// MarkProvisionallyPaid переводит pending в paid без активации и
	// в той же транзакции ставит задачу сверки в outbox.
	MarkProvisionallyPaid(ctx context.Context, id string) (bool, error)

	// MarkClosed переводит неактивированную попытку из одного из статусов
	// from в failed или canceled.
	MarkClosed(ctx context.Context, id string, to domain.AttemptStatus, from ...domain.AttemptStatus) (bool, error)

	// Finalize отмечает оплату подтверждённой и вызывает activate в той же
	// транзакции. activate не вызывается, если попытку уже финализировали.
	Finalize(ctx context.Context, id, gatewayPaymentID string, at time.Time, activate func(ctx context.Context) error) (bool, error)

	// GetStale возвращает неактивированные попытки, созданные в окне
	// (notBefore, staleBefore), для обхода сверки.
	GetStale(ctx context.Context, staleBefore, notBefore time.Time, limit int) ([]*domain.PaymentAttempt, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// AttemptModel — GORM модель для таблицы payment_attempts.
type AttemptModel struct {
	ID               string     `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID           string     `gorm:"column:user_id;type:varchar(36);not null;index"`
	Plan             string     `gorm:"column:plan;type:varchar(20);not null"`
	Amount           int64      `gorm:"column:amount;not null"`
	Currency         string     `gorm:"column:currency;type:varchar(3);not null"`
	Status           string     `gorm:"column:status;type:varchar(20);not null;index:idx_attempts_sweep,priority:1"`
	GatewayPaymentID *string    `gorm:"column:gateway_payment_id;type:varchar(100)"`
	ActivatedAt      *time.Time `gorm:"column:activated_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_attempts_sweep,priority:2"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AttemptModel) TableName() string {
	return "payment_attempts"
}

func (m *AttemptModel) toDomain() *domain.PaymentAttempt {
	return &domain.PaymentAttempt{
		ID:               m.ID,
		UserID:           m.UserID,
		Plan:             domain.PlanID(m.Plan),
		Amount:           m.Amount,
		Currency:         m.Currency,
		Status:           domain.AttemptStatus(m.Status),
		GatewayPaymentID: m.GatewayPaymentID,
		ActivatedAt:      m.ActivatedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.PaymentAttempt) *AttemptModel {
	return &AttemptModel{
		ID:               a.ID,
		UserID:           a.UserID,
		Plan:             string(a.Plan),
		Amount:           a.Amount,
		Currency:         a.Currency,
		Status:           string(a.Status),
		GatewayPaymentID: a.GatewayPaymentID,
		ActivatedAt:      a.ActivatedAt,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository создаёт репозиторий попыток оплаты.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

// Create сохраняет новую попытку.
func (r *attemptRepository) Create(ctx context.Context, attempt *domain.PaymentAttempt) error {
	model := attemptModelFromDomain(attempt)

	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return fmt.Errorf("создание попытки оплаты: %w", err)
	}

	attempt.CreatedAt = model.CreatedAt
	attempt.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает попытку по ID.
func (r *attemptRepository) GetByID(ctx context.Context, id string) (*domain.PaymentAttempt, error) {
	var model AttemptModel

	if err := conn(ctx, r.db).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// MarkProvisionallyPaid выполняет оптимистичный переход по вебхуку.
func (r *attemptRepository) MarkProvisionallyPaid(ctx context.Context, id string) (bool, error) {
	var flipped bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AttemptModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusPending)).
			Update("status", string(domain.StatusPaid))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		record, err := outbox.NewRecord(
			domain.AggregatePaymentAttempt,
			id,
			domain.EventReconcileRequested,
			kafka.TopicBillingReconcile,
			domain.ReconcileJob{PaymentID: id, Source: domain.JobSourceWebhook},
			traceHeaders(ctx),
		)
		if err != nil {
			return err
		}
		if err := tx.Create(outbox.ModelFromRecord(record)).Error; err != nil {
			return fmt.Errorf("запись задачи сверки в outbox: %w", err)
		}

		flipped = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return flipped, nil
}

// MarkClosed переводит попытку в failed или canceled.
func (r *attemptRepository) MarkClosed(ctx context.Context, id string, to domain.AttemptStatus, from ...domain.AttemptStatus) (bool, error) {
	if to != domain.StatusFailed && to != domain.StatusCanceled {
		return false, fmt.Errorf("%w: %s", domain.ErrWrongStatus, to)
	}
	if len(from) == 0 {
		from = []domain.AttemptStatus{domain.StatusPending}
	}

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	res := conn(ctx, r.db).Model(&AttemptModel{}).
		Where("id = ? AND status IN ? AND activated_at IS NULL", id, statuses).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// Finalize выполняет CAS на activated_at и активацию членства в одной
// транзакции. Ошибка activate откатывает и смену статуса.
func (r *attemptRepository) Finalize(ctx context.Context, id, gatewayPaymentID string, at time.Time, activate func(ctx context.Context) error) (bool, error) {
	var won bool

	updates := map[string]any{
		"status":       string(domain.StatusPaid),
		"activated_at": at,
	}
	if gatewayPaymentID != "" {
		updates["gateway_payment_id"] = gatewayPaymentID
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&AttemptModel{}).
			Where("id = ? AND activated_at IS NULL AND status IN ?", id,
				[]string{string(domain.StatusPending), string(domain.StatusPaid)}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := activate(withTx(ctx, tx)); err != nil {
			return err
		}

		won = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return won, nil
}

// GetStale возвращает кандидатов для обхода сверки, самые старые первыми.
func (r *attemptRepository) GetStale(ctx context.Context, staleBefore, notBefore time.Time, limit int) ([]*domain.PaymentAttempt, error) {
	var models []AttemptModel

	if err := conn(ctx, r.db).
		Where("status IN ? AND activated_at IS NULL AND created_at < ? AND created_at > ?",
			[]string{string(domain.StatusPending), string(domain.StatusPaid)}, staleBefore, notBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	attempts := make([]*domain.PaymentAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, models[i].toDomain())
	}

	return attempts, nil
}

// traceHeaders переносит trace_id и correlation_id запроса в сообщение.
func traceHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string, 2)
	if v := logger.TraceIDFromContext(ctx); v != "" {
		headers[kafka.HeaderTraceID] = v
	}
	if v := logger.CorrelationIDFromContext(ctx); v != "" {
		headers[kafka.HeaderCorrelationID] = v
	}
	return headers
}
