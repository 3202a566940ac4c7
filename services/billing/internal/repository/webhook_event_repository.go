package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/membership-billing/services/billing/internal/domain"
)

// WebhookEventRepository — журнал доставок вебхуков.
type WebhookEventRepository interface {
	// Record сохраняет доставку. false означает, что webhook-id уже был.
	Record(ctx context.Context, event *domain.WebhookEvent) (bool, error)

	// MarkProcessed отмечает доставку обработанной и сохраняет ошибку, если была.
	MarkProcessed(ctx context.Context, webhookID string, procErr error) error
}

// WebhookEventModel — GORM модель таблицы webhook_events.
type WebhookEventModel struct {
	ID          uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	WebhookID   string     `gorm:"column:webhook_id;type:varchar(128);not null;uniqueIndex"`
	PaymentID   string     `gorm:"column:payment_id;type:varchar(64);index"`
	Status      string     `gorm:"column:status;type:varchar(40)"`
	Payload     string     `gorm:"column:payload;type:text"`
	Error       *string    `gorm:"column:error;type:text"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository создаёт репозиторий журнала вебхуков.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// Record вставляет доставку, дубликат по webhook_id не считается ошибкой.
func (r *webhookEventRepository) Record(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	model := &WebhookEventModel{
		WebhookID: event.WebhookID,
		PaymentID: event.PaymentID,
		Status:    event.Status,
		Payload:   string(event.Payload),
	}

	res := conn(ctx, r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

// MarkProcessed фиксирует результат обработки.
func (r *webhookEventRepository) MarkProcessed(ctx context.Context, webhookID string, procErr error) error {
	updates := map[string]any{"processed_at": time.Now().UTC()}
	if procErr != nil {
		updates["error"] = procErr.Error()
	}

	return conn(ctx, r.db).Model(&WebhookEventModel{}).
		Where("webhook_id = ?", webhookID).
		Updates(updates).Error
}
