package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"example.com/membership-billing/pkg/config"
)

// ConnectRedis создаёт клиент Redis и проверяет соединение.
// Redis не обязателен (идемпотентность, rate limit, blacklist), поэтому ошибка
// ping возвращается вызывающему, а тот решает, продолжать ли без него.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return rdb, fmt.Errorf("ошибка ping Redis %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}
