package tokencache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore — хранилище токена в памяти процесса. Используется в тестах и
// при запуске без Redis.
type MemoryStore struct {
	mutex     sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.token == "" || time.Now().After(s.expiresAt) {
		return "", false, nil
	}
	return s.token, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, token string, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = token
	s.expiresAt = time.Now().Add(ttl)
	return nil
}
