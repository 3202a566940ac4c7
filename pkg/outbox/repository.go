package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound — запись outbox не найдена.
var ErrNotFound = errors.New("запись outbox не найдена")

// Repository — хранилище записей outbox.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetUnprocessed(ctx context.Context, limit int) ([]*Record, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository создаёт GORM репозиторий outbox.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create вставляет запись вне бизнес-транзакции.
func (r *repository) Create(ctx context.Context, record *Record) error {
	model := ModelFromRecord(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetUnprocessed возвращает неотправленные записи. Записи с большим
// retry_count уходят в конец очереди.
func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Record, error) {
	var models []Model
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*Record, len(models))
	for i := range models {
		out[i] = models[i].ToRecord()
	}
	return out, nil
}

// MarkProcessed отмечает запись отправленной.
func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed увеличивает retry_count и сохраняет текст ошибки.
func (r *repository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	res := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  sendErr.Error(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет до 1000 отправленных записей старше before.
func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before).
		Limit(1000).
		Delete(&Model{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
