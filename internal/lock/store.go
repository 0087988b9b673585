package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// compare-and-delete; a plain DEL could remove a lock re-acquired by another owner after expiry
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, token, ttl).Result()
}

func (s *RedisStore) DeleteIfOwner(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type memLock struct {
	token     string
	expiresAt time.Time
}

// MemoryStore serves single process deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]memLock
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]memLock), now: time.Now}
}

func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[key]; ok && now.Before(l.expiresAt) {
		return false, nil
	}
	m.locks[key] = memLock{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) DeleteIfOwner(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok || l.token != token || !m.now().Before(l.expiresAt) {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}
