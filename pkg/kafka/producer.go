package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/membership-billing/pkg/logger"
)

// messageWriter — часть *kafka.Writer, нужная Producer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer синхронно отправляет сообщения в Kafka.
type Producer struct {
	writer messageWriter
}

// NewProducer создаёт Producer. Запись ждёт подтверждения лидера партиции.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // один payment_id всегда в одной партиции
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("Создан Kafka Producer")

	return &Producer{writer: writer}, nil
}

// Send отправляет value в topic. trace_id, correlation_id и timestamp
// берутся из контекста.
func (p *Producer) Send(ctx context.Context, topic string, key, value []byte) error {
	return p.SendMessage(ctx, &Message{Topic: topic, Key: key, Value: value})
}

// SendMessage отправляет подготовленный Message, дополняя недостающие
// стандартные headers.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	setIfAbsent(msg.Headers, HeaderTraceID, TraceIDFromContext(ctx))
	setIfAbsent(msg.Headers, HeaderCorrelationID, CorrelationIDFromContext(ctx))
	setIfAbsent(msg.Headers, HeaderTimestamp, time.Now().UTC().Format(time.RFC3339Nano))

	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Сообщение отправлено в Kafka")
	return nil
}

// SendToDLQ копирует сообщение в TopicDLQ с описанием ошибки в headers.
func (p *Producer) SendToDLQ(ctx context.Context, original *Message, processingErr error) error {
	headers := make(map[string]string, len(original.Headers)+3)
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers[HeaderDLQError] = processingErr.Error()
	headers[HeaderDLQOriginalTopic] = original.Topic
	headers[HeaderDLQTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)

	return p.SendMessage(ctx, &Message{
		Topic:   TopicDLQ,
		Key:     original.Key,
		Value:   original.Value,
		Headers: headers,
	})
}

// Close закрывает writer.
func (p *Producer) Close() error {
	logger.Info().Msg("Закрытие Kafka Producer")

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	return nil
}

func setIfAbsent(headers map[string]string, key, value string) {
	if value == "" {
		return
	}
	if _, ok := headers[key]; !ok {
		headers[key] = value
	}
}
