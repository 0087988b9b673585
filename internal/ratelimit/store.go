package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of one quota check.
type Result struct {
	Allowed    bool
	Remaining  int64
	ResetAfter time.Duration
}

// Store performs quota arithmetic atomically. Implementations must make the
// read, refill and consume of one key indivisible across concurrent callers.
type Store interface {
	TakeToken(ctx context.Context, key string, capacity int64, refillPerSec float64, now time.Time) (Result, error)
	ReturnToken(ctx context.Context, key string, capacity int64) error
	IncrWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (Result, error)
	DecrWindow(ctx context.Context, key string) error
}

// KEYS[1] bucket; ARGV capacity, refill per ms, now ms.
// Returns {allowed, tokens-as-string}; tokens are fractional so they travel as a string.
var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end
if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * rate)
	ts = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "ts", tostring(ts))
local ttl = 86400000
if rate > 0 then
	ttl = math.ceil(capacity / rate) + 1000
end
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

var returnTokenScript = redis.NewScript(`
local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
if tokens == nil then
	return 0
end
tokens = math.min(tonumber(ARGV[1]), tokens + 1)
redis.call("HSET", KEYS[1], "tokens", tostring(tokens))
return 1
`)

// KEYS[1] window counter; ARGV limit, window ms. Returns {allowed, count, pttl}.
var incrWindowScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= limit then
	return {0, current, redis.call("PTTL", KEYS[1])}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, current, redis.call("PTTL", KEYS[1])}
`)

var decrWindowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) TakeToken(ctx context.Context, key string, capacity int64, refillPerSec float64, now time.Time) (Result, error) {
	perMs := refillPerSec / 1000
	vals, err := takeTokenScript.Run(ctx, s.client, []string{key},
		capacity, strconv.FormatFloat(perMs, 'f', -1, 64), now.UnixMilli()).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("take token %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("take token %s: unexpected reply %v", key, vals)
	}
	allowed, _ := vals[0].(int64)
	tokensStr, _ := vals[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return Result{}, fmt.Errorf("take token %s: parse tokens: %w", key, err)
	}
	return bucketResult(allowed == 1, tokens, refillPerSec), nil
}

func (s *RedisStore) ReturnToken(ctx context.Context, key string, capacity int64) error {
	return returnTokenScript.Run(ctx, s.client, []string{key}, capacity).Err()
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, limit int64, window time.Duration, _ time.Time) (Result, error) {
	vals, err := incrWindowScript.Run(ctx, s.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("incr window %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("incr window %s: unexpected reply %v", key, vals)
	}
	reset := window
	if vals[2] > 0 {
		reset = time.Duration(vals[2]) * time.Millisecond
	}
	return Result{
		Allowed:    vals[0] == 1,
		Remaining:  max(limit-vals[1], 0),
		ResetAfter: reset,
	}, nil
}

func (s *RedisStore) DecrWindow(ctx context.Context, key string) error {
	return decrWindowScript.Run(ctx, s.client, []string{key}).Err()
}

func bucketResult(allowed bool, tokens, refillPerSec float64) Result {
	r := Result{Allowed: allowed, Remaining: int64(math.Floor(tokens))}
	if !allowed && refillPerSec > 0 {
		r.ResetAfter = time.Duration((1 - tokens) / refillPerSec * float64(time.Second))
	}
	return r
}

type bucket struct {
	tokens float64
	ts     time.Time
}

type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore keeps quotas in process, guarded by one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	windows map[string]*window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		windows: make(map[string]*window),
	}
}

func (m *MemoryStore) TakeToken(_ context.Context, key string, capacity int64, refillPerSec float64, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(capacity), ts: now}
		m.buckets[key] = b
	}
	if now.After(b.ts) {
		b.tokens = math.Min(float64(capacity), b.tokens+now.Sub(b.ts).Seconds()*refillPerSec)
		b.ts = now
	}

	allowed := false
	if b.tokens >= 1 {
		b.tokens--
		allowed = true
	}
	return bucketResult(allowed, b.tokens, refillPerSec), nil
}

func (m *MemoryStore) ReturnToken(_ context.Context, key string, capacity int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[key]; ok {
		b.tokens = math.Min(float64(capacity), b.tokens+1)
	}
	return nil
}

func (m *MemoryStore) IncrWindow(_ context.Context, key string, limit int64, win time.Duration, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(win)}
		m.windows[key] = w
	}
	reset := w.expiresAt.Sub(now)
	if w.count >= limit {
		return Result{Allowed: false, Remaining: 0, ResetAfter: reset}, nil
	}
	w.count++
	return Result{Allowed: true, Remaining: limit - w.count, ResetAfter: reset}, nil
}

func (m *MemoryStore) DecrWindow(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.windows[key]; ok && w.count > 0 {
		w.count--
	}
	return nil
}
