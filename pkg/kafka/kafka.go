// Package kafka оборачивает kafka-go для очереди сверки платежей:
// Producer и Consumer с headers трассировки, повторами и DLQ.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/membership-billing/pkg/logger"
)

// Топики биллинга.
const (
	// TopicBillingReconcile — задачи сверки попыток оплаты.
	TopicBillingReconcile = "billing.reconcile"

	// TopicDLQ — задачи, исчерпавшие повторы или требующие ручного разбора.
	TopicDLQ = "dlq.billing"
)

// Ключи headers сообщений.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"

	HeaderDLQError         = "dlq_error"
	HeaderDLQOriginalTopic = "dlq_original_topic"
	HeaderDLQTimestamp     = "dlq_timestamp"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message — сообщение Kafka с метаданными.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// TraceIDFromContext делегирует в pkg/logger.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext делегирует в pkg/logger.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// ContextWithTraceID делегирует в pkg/logger.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return logger.WithTraceID(ctx, traceID)
}

// ContextWithCorrelationID делегирует в pkg/logger.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.WithCorrelationID(ctx, correlationID)
}
