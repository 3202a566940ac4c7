// Package healthcheck содержит проверки зависимостей для readiness probe.
package healthcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
)

// Check — проверка одной зависимости.
type Check func(ctx context.Context) error

// MySQL проверяет соединение с базой.
func MySQL(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("mysql ping: %w", err)
		}
		return nil
	}
}

// Redis проверяет соединение с Redis.
func Redis(rdb redis.UniversalClient) Check {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// Kafka считает брокеры доступными, если отвечает хотя бы один.
func Kafka(brokers []string) Check {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka: брокеры не заданы")
		}

		var dialer kafka.Dialer
		var errs []error
		for _, addr := range brokers {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			_ = conn.Close()
			return nil
		}
		return fmt.Errorf("kafka: %w", errors.Join(errs...))
	}
}

// Composite возвращает первую ошибку из checks.
func Composite(checks ...Check) Check {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
