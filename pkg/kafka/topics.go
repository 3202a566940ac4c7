package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"example.com/membership-billing/pkg/logger"
)

// BillingTopics возвращает топики, которые нужны сервису биллинга.
// DLQ имеет одну партицию: порядок разбора вручную важнее пропускной способности.
func BillingTopics(partitions, replication int) []kafka.TopicConfig {
	return []kafka.TopicConfig{
		{Topic: TopicBillingReconcile, NumPartitions: partitions, ReplicationFactor: replication},
		{Topic: TopicDLQ, NumPartitions: 1, ReplicationFactor: replication},
	}
}

// EnsureTopics создаёт недостающие топики через контроллер кластера.
// Уже существующие топики не считаются ошибкой.
func EnsureTopics(ctx context.Context, brokers []string, topics ...kafka.TopicConfig) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	var dialer kafka.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("подключение к Kafka %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("получение контроллера Kafka: %w", err)
	}

	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := dialer.DialContext(ctx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("подключение к контроллеру Kafka %s: %w", ctrlAddr, err)
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(topics...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("создание топиков: %w", err)
	}

	for _, t := range topics {
		logger.Info().Str("topic", t.Topic).Int("partitions", t.NumPartitions).Msg("Топик Kafka готов")
	}
	return nil
}
