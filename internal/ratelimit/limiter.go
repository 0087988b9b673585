// Package ratelimit enforces per-user action quotas on top of a shared Store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oggyb/muzz-matchmaker/internal/config"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/metrics"
)

type Kind string

const (
	TokenBucket Kind = "token_bucket"
	FixedWindow Kind = "fixed_window"
)

// Actions guarded by the write path.
const (
	ActionSwipe   = "swipe"
	ActionLike    = "like"
	ActionMessage = "message"
)

type Policy struct {
	Kind            Kind
	Capacity        int64
	RefillPerSecond float64
	Window          time.Duration
}

// PoliciesFromConfig builds the per-action policy table.
func PoliciesFromConfig(cfg *config.Config) map[string]Policy {
	conv := func(p config.LimitPolicy) Policy {
		return Policy{Kind: Kind(p.Kind), Capacity: p.Capacity, RefillPerSecond: p.Refill, Window: p.Window}
	}
	return map[string]Policy{
		ActionSwipe:   conv(cfg.Limits.Swipe),
		ActionLike:    conv(cfg.Limits.Like),
		ActionMessage: conv(cfg.Limits.Message),
	}
}

type Limiter struct {
	store    Store
	policies map[string]Policy
	now      func() time.Time
	log      *slog.Logger
}

func New(store Store, policies map[string]Policy, log *slog.Logger) *Limiter {
	return &Limiter{store: store, policies: policies, now: time.Now, log: log}
}

// WithClock replaces the time source, used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func Key(action string, userID uint64) string {
	return fmt.Sprintf("ratelimit:%s:%d", action, userID)
}

// Allow consumes one unit of the action quota for userID. A denial returns a
// QuotaExceeded error alongside the result. Store failures fail open.
func (l *Limiter) Allow(ctx context.Context, action string, userID uint64) (Result, error) {
	p, ok := l.policies[action]
	if !ok || p.Capacity <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	key := Key(action, userID)
	var (
		res Result
		err error
	)
	switch p.Kind {
	case FixedWindow:
		res, err = l.store.IncrWindow(ctx, key, p.Capacity, p.Window, l.now())
	default:
		res, err = l.store.TakeToken(ctx, key, p.Capacity, p.RefillPerSecond, l.now())
	}
	if err != nil {
		l.log.Warn("rate limit store unavailable, allowing", "action", action, "user_id", userID, "error", err)
		metrics.RateLimitDecisions.WithLabelValues(action, "failopen").Inc()
		return Result{Allowed: true, Remaining: -1}, nil
	}

	if !res.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(action, "denied").Inc()
		return res, apperrors.QuotaExceeded(action, res.Remaining, res.ResetAfter)
	}
	metrics.RateLimitDecisions.WithLabelValues(action, "allowed").Inc()
	return res, nil
}

// Refund gives back a unit consumed by Allow when the guarded write did not happen.
func (l *Limiter) Refund(ctx context.Context, action string, userID uint64) {
	p, ok := l.policies[action]
	if !ok || p.Capacity <= 0 {
		return
	}

	key := Key(action, userID)
	var err error
	switch p.Kind {
	case FixedWindow:
		err = l.store.DecrWindow(ctx, key)
	default:
		err = l.store.ReturnToken(ctx, key, p.Capacity)
	}
	if err != nil {
		l.log.Warn("rate limit refund failed", "action", action, "user_id", userID, "error", err)
		return
	}
	metrics.RateLimitDecisions.WithLabelValues(action, "refunded").Inc()
}
