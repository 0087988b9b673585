// Package lock provides short lived mutual exclusion keyed by string, shared
// across service instances through a Store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired means the lock stayed held by someone else for every attempt.
var ErrNotAcquired = errors.New("lock: not acquired")

// Store is the atomic primitive pair a lock backend must provide.
type Store interface {
	// SetIfAbsent stores token under key with ttl only when key is free.
	SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// DeleteIfOwner removes key only while it still holds token.
	DeleteIfOwner(ctx context.Context, key, token string) (bool, error)
}

// Backoff bounds retrying a busy lock.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

type Locker struct {
	store Store
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLocker(store Store) *Locker {
	return &Locker{store: store, sleep: sleepCtx}
}

// Acquire makes one attempt. A busy lock returns ok=false with a nil error.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.store.SetIfAbsent(ctx, key, token, ttl)
	if err != nil {
		return "", false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees key if token still owns it. A false result means the lock
// expired (and may be held by someone else now); nothing is deleted then.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	ok, err := l.store.DeleteIfOwner(ctx, key, token)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return ok, nil
}

// AcquireWithRetry retries a busy lock with jittered exponential backoff and
// gives up with ErrNotAcquired after b.Attempts tries.
func (l *Locker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, b Backoff) (string, error) {
	if b.Attempts < 1 {
		b.Attempts = 1
	}
	delay := b.Initial
	for attempt := 1; ; attempt++ {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if attempt >= b.Attempts {
			return "", ErrNotAcquired
		}

		wait := delay
		if wait > 0 {
			wait = wait/2 + rand.N(wait/2+1)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return "", err
		}
		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}

// PairKey is the lock key for an unordered user pair, smaller id first.
func PairKey(a, b uint64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("lock:match:%d:%d", a, b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
