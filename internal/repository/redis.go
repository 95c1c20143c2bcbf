package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinica/internal/config"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "idempotency:"

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisIdempotencyRepository stores submission keys with SET NX so that
// every API instance sees the same key space.
type RedisIdempotencyRepository struct {
	client *redis.Client
}

func NewRedisIdempotencyRepository(client *redis.Client) *RedisIdempotencyRepository {
	return &RedisIdempotencyRepository{client: client}
}

func (r *RedisIdempotencyRepository) Get(ctx context.Context, key string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get idempotency key from redis: %w", err)
	}
	return val, nil
}

func (r *RedisIdempotencyRepository) Reserve(ctx context.Context, key, appointmentID string, ttl time.Duration) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	stored, err := r.client.SetNX(ctx, idempotencyPrefix+key, appointmentID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to reserve idempotency key in redis: %w", err)
	}
	if stored {
		return appointmentID, true, nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
