package tokencache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const tokenKey = "kiberclub:crm_token"

// RedisStore — продовое хранилище токена. Несколько воркеров используют один
// ключ: гонка при обновлении безопасна, последняя запись выигрывает.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context) (string, bool, error) {
	token, err := s.client.Get(ctx, tokenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get crm token from redis: %w", err)
	}
	return token, true, nil
}

func (s *RedisStore) Set(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, tokenKey, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store crm token in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
