// Package outbox реализует transactional outbox: запись в outbox
// создаётся в той же транзакции, что и изменение бизнес-данных,
// а Worker публикует её в Kafka (или локальную очередь) отдельно.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record — сообщение, ожидающее публикации.
type Record struct {
	ID            string
	AggregateType string // payment_attempt
	AggregateID   string // id попытки оплаты
	EventType     string // reconcile.requested
	Topic         string
	MessageKey    string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewRecord сериализует payload в JSON и создаёт запись с новым UUID.
// Ключ сообщения совпадает с aggregateID, чтобы события одного
// агрегата попадали в одну партицию.
func NewRecord(aggregateType, aggregateID, eventType, topic string, payload any, headers map[string]string) (*Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация payload outbox: %w", err)
	}

	return &Record{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       headers,
	}, nil
}
