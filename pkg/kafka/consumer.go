package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/membership-billing/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение. Контекст содержит trace_id
// и correlation_id из headers.
type MessageHandler func(ctx context.Context, msg *Message) error

// DeadLetterSender принимает сообщения, которые не удалось обработать.
type DeadLetterSender interface {
	SendToDLQ(ctx context.Context, original *Message, processingErr error) error
}

// messageReader — часть *kafka.Reader, нужная Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// fetchErrorBackoff — пауза после ошибки чтения, чтобы не крутить цикл
// при недоступном брокере.
const fetchErrorBackoff = time.Second

// Consumer читает топик в составе consumer group.
type Consumer struct {
	reader messageReader
	dlq    DeadLetterSender
	topic  string
}

// NewConsumer создаёт Consumer. Новая группа начинает с самого раннего
// offset, чтобы задачи, поставленные до первого запуска, не терялись.
func NewConsumer(cfg Config, topic, groupID string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if groupID == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: reader, topic: topic}, nil
}

// SetDLQ задаёт получателя необработанных сообщений.
func (c *Consumer) SetDLQ(dlq DeadLetterSender) {
	c.dlq = dlq
}

// Consume читает сообщения до отмены ctx. Offset коммитится после
// обработки; ошибочные сообщения перед коммитом уходят в DLQ.
// Сообщение, обработка которого прервана отменой ctx, не коммитится.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().Str("topic", c.topic).Msg("Запуск чтения сообщений из Kafka")

	for {
		if err := ctx.Err(); err != nil {
			logger.Info().Str("topic", c.topic).Msg("Остановка Consumer")
			return err
		}

		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка чтения сообщения из Kafka")
			if err := sleepCtx(ctx, fetchErrorBackoff); err != nil {
				return err
			}
			continue
		}
		msg := fromKafkaMessage(km)

		err = c.processMessage(ctx, msg, handler)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Error().
				Err(err).
				Str("topic", c.topic).
				Str("key", string(msg.Key)).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Ошибка обработки сообщения")

			if c.dlq != nil {
				if dlqErr := c.dlq.SendToDLQ(ctx, msg, err); dlqErr != nil {
					logger.Error().Err(dlqErr).Str("key", string(msg.Key)).Msg("Ошибка отправки в DLQ")
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Ошибка коммита offset")
		}
	}
}

// RetryPolicy описывает повторы обработки одного сообщения.
type RetryPolicy struct {
	// MaxRetries — число повторов после первой попытки.
	MaxRetries int
	// Delay — фиксированная пауза между попытками.
	Delay time.Duration
	// Retryable решает, стоит ли повторять. nil означает "всегда".
	Retryable func(error) bool
}

// ErrRetriesExhausted оборачивает последнюю ошибку после всех повторов.
var ErrRetriesExhausted = errors.New("исчерпаны попытки обработки")

// ConsumeWithPolicy запускает Consume, повторяя обработку сообщения
// согласно policy. Неповторяемая ошибка или исчерпанные повторы
// отправляют сообщение в DLQ.
func (c *Consumer) ConsumeWithPolicy(ctx context.Context, handler MessageHandler, policy RetryPolicy) error {
	return c.Consume(ctx, func(ctx context.Context, msg *Message) error {
		return runWithPolicy(ctx, msg, handler, policy, sleepCtx)
	})
}

// RunWithPolicy применяет policy к одному сообщению вне Kafka (локальная
// очередь использует те же правила повторов).
func RunWithPolicy(ctx context.Context, msg *Message, handler MessageHandler, policy RetryPolicy) error {
	return runWithPolicy(ctx, msg, handler, policy, sleepCtx)
}

func runWithPolicy(
	ctx context.Context,
	msg *Message,
	handler MessageHandler,
	policy RetryPolicy,
	sleep func(context.Context, time.Duration) error,
) error {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().
				Int("attempt", attempt).
				Str("key", string(msg.Key)).
				Dur("delay", policy.Delay).
				Err(lastErr).
				Msg("Повторная попытка обработки сообщения")

			if err := sleep(ctx, policy.Delay); err != nil {
				return err
			}
		}

		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w (%d): %w", ErrRetriesExhausted, policy.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	if traceID, ok := msg.Headers[HeaderTraceID]; ok {
		ctx = ContextWithTraceID(ctx, traceID)
	}
	if correlationID, ok := msg.Headers[HeaderCorrelationID]; ok {
		ctx = ContextWithCorrelationID(ctx, correlationID)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Int64("offset", msg.Offset).
		Str("trace_id", TraceIDFromContext(ctx)).
		Msg("Получено сообщение из Kafka")

	return handler(ctx, msg)
}

// Close закрывает reader.
func (c *Consumer) Close() error {
	logger.Info().Str("topic", c.topic).Msg("Закрытие Kafka Consumer")

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	return nil
}

// Lag возвращает отставание группы от конца топика.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
