package outbox

import (
	"encoding/json"
	"time"
)

// Model — GORM модель таблицы billing_outbox.
type Model struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(50);not null;index:idx_outbox_aggregate"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(36);not null;index:idx_outbox_aggregate"`
	EventType     string     `gorm:"column:event_type;type:varchar(100);not null"`
	Topic         string     `gorm:"column:topic;type:varchar(100);not null"`
	MessageKey    string     `gorm:"column:message_key;type:varchar(100);not null"`
	Payload       []byte     `gorm:"column:payload;type:json;not null"`
	Headers       []byte     `gorm:"column:headers;type:json"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time `gorm:"column:processed_at;index:idx_outbox_unprocessed"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	LastError     *string    `gorm:"column:last_error;type:text"`
}

// TableName возвращает имя таблицы.
func (Model) TableName() string {
	return "billing_outbox"
}

// ToRecord конвертирует строку таблицы в Record.
// Повреждённые headers отбрасываются: сообщение всё равно доставляется.
func (m *Model) ToRecord() *Record {
	r := &Record{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		Payload:       m.Payload,
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
	}
	if len(m.Headers) > 0 {
		_ = json.Unmarshal(m.Headers, &r.Headers)
	}
	return r
}

// ModelFromRecord готовит Record к вставке. Используется репозиториями,
// которые пишут outbox внутри своей транзакции.
func ModelFromRecord(r *Record) *Model {
	m := &Model{
		ID:            r.ID,
		AggregateType: r.AggregateType,
		AggregateID:   r.AggregateID,
		EventType:     r.EventType,
		Topic:         r.Topic,
		MessageKey:    r.MessageKey,
		Payload:       r.Payload,
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
		RetryCount:    r.RetryCount,
		LastError:     r.LastError,
	}
	if len(r.Headers) > 0 {
		if data, err := json.Marshal(r.Headers); err == nil {
			m.Headers = data
		}
	}
	return m
}
