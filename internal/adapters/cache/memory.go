package cache

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache CachePort в памяти процесса на go-cache.
// Используется для одиночных запусков без Redis.
type MemoryCache struct {
	store *gocache.Cache
	mu    sync.Mutex
}

// NewMemoryCache создает кэш с периодической очисткой просроченных ключей
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: gocache.New(gocache.NoExpiration, time.Minute)}
}

func ttl(expiration time.Duration) time.Duration {
	if expiration <= 0 {
		return gocache.NoExpiration
	}
	return expiration
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, apperrors.ErrCacheMiss
	}
	return v.([]byte), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	m.store.Set(key, append([]byte(nil), value...), ttl(expiration))
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

// Lock атомарно добавляет ключ блокировки; Add не перезаписывает существующий
func (m *MemoryCache) Lock(_ context.Context, key string, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Add("lock:"+key, struct{}{}, ttl(expiration)); err != nil {
		return false, nil
	}
	return true, nil
}

func (m *MemoryCache) Unlock(_ context.Context, key string) error {
	m.store.Delete("lock:" + key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.store.Flush()
	return nil
}
