package tokencache

import (
	"context"
	"time"
)

// TokenStore хранит один токен CRM, общий для всех процессов, использующих
// одно и то же хранилище. Отсутствие ключа означает "нужно авторизоваться
// заново" — явной инвалидации нет, ключ просто истекает по TTL.
type TokenStore interface {
	Get(ctx context.Context) (token string, found bool, err error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}
