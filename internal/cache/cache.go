package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/oggyb/muzz-matchmaker/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/crypto/blake2b"
)

// Options tune the circuit breaker guarding the backend.
type Options struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Cache is a fail-open facade over a Store. Backend failures never reach
// callers: reads degrade to misses, writes and deletes become no-ops. Reads
// and writes go through the circuit breaker; deletes always try the store.
type Cache struct {
	store Store
	cb    *gobreaker.CircuitBreaker[[]byte]
	log   *slog.Logger
}

func New(store Store, opts Options, log *slog.Logger) *Cache {
	if opts.Name == "" {
		opts.Name = "cache"
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = 10 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("cache breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	}

	return &Cache{
		store: store,
		cb:    gobreaker.NewCircuitBreaker[[]byte](settings),
		log:   log,
	}
}

// Get returns the cached bytes and whether the key was a hit.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.cb.Execute(func() ([]byte, error) {
		return c.store.Get(ctx, key)
	})
	switch {
	case err == nil:
		metrics.CacheResults.WithLabelValues("get", "hit").Inc()
		return val, true
	case errors.Is(err, ErrMiss):
		metrics.CacheResults.WithLabelValues("get", "miss").Inc()
	default:
		c.fail("get", key, err)
	}
	return nil, false
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_, err := c.cb.Execute(func() ([]byte, error) {
		return nil, c.store.Set(ctx, key, value, ttl)
	})
	if err != nil {
		c.fail("set", key, err)
	}
}

// Delete removes keys. Invalidations bypass the breaker so they still reach a
// recovered backend while the breaker is open; errors are logged only.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.fail("delete", fmt.Sprint(keys), err)
	}
}

// DeleteByPrefix removes every key under prefix, bypassing the breaker like
// Delete.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) int {
	n, err := c.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		c.fail("delete_prefix", prefix, err)
		return 0
	}
	return n
}

// GetJSON decodes a hit into dst. Undecodable entries are deleted and reported as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn("cache entry undecodable, dropping", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Error("cache encode failed", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, raw, ttl)
}

func (c *Cache) fail(op, key string, err error) {
	metrics.CacheResults.WithLabelValues(op, "error").Inc()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.log.Debug("cache breaker open, skipping", "op", op, "key", key)
		return
	}
	c.log.Warn("cache backend failure", "op", op, "key", key, "error", err)
}

// --- keys ---

func FeedPrefix(userID uint64) string { return fmt.Sprintf("feed:%d:", userID) }

func FeedKey(userID uint64, filterHash string) string {
	return FeedPrefix(userID) + filterHash
}

func ProfileKey(userID uint64) string { return fmt.Sprintf("profile:%d", userID) }

// KeyForLikeCount generates the key for a user's like count
func KeyForLikeCount(userID uint64) string { return fmt.Sprintf("likes:count:%d", userID) }

func CuratedKey(userID uint64) string { return fmt.Sprintf("curated:%d", userID) }

// FilterHash fingerprints the parameters a feed was composed with. Maps are
// encoded with sorted keys so equal filters hash equally.
func FilterHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("filter hash: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:16]), nil
}
