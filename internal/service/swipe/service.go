// Package swipe is the write coordinator: swipes, match creation and
// messages, each guarded by quotas and, for matches, a pair lock.
package swipe

import (
	"context"
	"errors"
	"strconv"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/events"
	"github.com/oggyb/muzz-matchmaker/internal/lock"
	"github.com/oggyb/muzz-matchmaker/internal/logger"
	"github.com/oggyb/muzz-matchmaker/internal/metrics"
	"github.com/oggyb/muzz-matchmaker/internal/ratelimit"
	"github.com/oggyb/muzz-matchmaker/internal/repository"
	"github.com/oggyb/muzz-matchmaker/internal/service/feed"
	"github.com/oggyb/muzz-matchmaker/internal/utils/validation"
)

// Store is the persistence the coordinator writes through.
type Store interface {
	CreateSwipe(ctx context.Context, actorID, recipientID uint64, liked bool) (bool, error)
	HasLiked(ctx context.Context, actorID, recipientID uint64) (bool, error)
	CreateMatchIfAbsent(ctx context.Context, a, b uint64) (db.Match, bool, error)
	FindMatch(ctx context.Context, a, b uint64) (*db.Match, error)
	GetMatchByID(ctx context.Context, id string) (db.Match, error)
	ListMatches(ctx context.Context, userID uint64, token *string, limit int) ([]db.Match, *string, error)
	GetLikers(ctx context.Context, recipientID uint64, token *string, limit int) ([]db.Swipe, *string, error)
	CountLikers(ctx context.Context, recipientID uint64) (int64, error)
	CreateMessage(ctx context.Context, matchID string, senderID uint64, body string) (db.Message, error)
	IncrementMessageCount(ctx context.Context, userID uint64) (int64, error)
}

// Profiles is the slice of the profile store the write path touches.
type Profiles interface {
	Exists(ctx context.Context, id uint64) (bool, error)
	RecordSwipe(ctx context.Context, actorID uint64, liked bool) error
}

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Service coordinates concurrent writes.
type Service struct {
	appCtx   *app.AppContext
	store    Store
	profiles Profiles
}

// NewService creates a coordinator over the gorm repositories for appCtx.DB.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		store:    repository.NewSwipeRepository(appCtx.DB),
		profiles: repository.NewProfileRepository(appCtx.DB),
	}
}

// WithStore swaps the swipe store.
func (s *Service) WithStore(store Store) *Service {
	s.store = store
	return s
}

// Swipe records a like or pass and creates the match on a reciprocal like.
//
// Behavior:
//  1. Validates ids and action; both users must exist.
//  2. Consumes the swipe quota, plus the like quota for likes.
//  3. Persists the decision; a failed write refunds the quotas.
//  4. Invalidates the swiper's cached feeds before returning.
//  5. For a like answered by an earlier like, creates the match under the
//     pair lock and publishes match.created.
//
// Example:
//
//	svc.Swipe(ctx, swipe.Request{UserID: 1, TargetID: 2, Action: swipe.ActionLike})
func (s *Service) Swipe(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx, s.appCtx.Logger)
	log.Debug("Swipe called", "user_id", req.UserID, "target_id", req.TargetID, "action", req.Action)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	for _, id := range []uint64{req.UserID, req.TargetID} {
		ok, err := s.profiles.Exists(ctx, id)
		if err != nil {
			return nil, apperrors.Transient("check user", err)
		}
		if !ok {
			return nil, apperrors.NotFound("user %d not found", id)
		}
	}

	liked := req.Action == ActionLike
	if err := s.takeQuota(ctx, req.UserID, liked); err != nil {
		return nil, err
	}

	created, err := s.store.CreateSwipe(ctx, req.UserID, req.TargetID, liked)
	if err != nil {
		s.refundQuota(ctx, req.UserID, liked)
		log.Error("CreateSwipe failed", "user_id", req.UserID, "target_id", req.TargetID, "err", err)
		return nil, apperrors.Transient("persist swipe", err)
	}

	if !created {
		// repeat of an existing decision: nothing was written
		s.refundQuota(ctx, req.UserID, liked)
		liked, err = s.store.HasLiked(ctx, req.UserID, req.TargetID)
		if err != nil {
			return nil, apperrors.Transient("read swipe", err)
		}
	} else {
		metrics.Swipes.WithLabelValues(string(req.Action)).Inc()
		if err := s.profiles.RecordSwipe(ctx, req.UserID, liked); err != nil {
			log.Warn("swipe counters not updated", "user_id", req.UserID, "err", err)
		}
	}

	feed.Invalidate(ctx, s.appCtx.Cache, req.UserID)
	s.appCtx.Cache.Delete(ctx, cache.KeyForLikeCount(req.UserID))
	if liked {
		s.appCtx.Cache.Delete(ctx, cache.KeyForLikeCount(req.TargetID))
	}

	res := &Result{Recorded: created}
	if !liked {
		return res, nil
	}

	reciprocal, err := s.store.HasLiked(ctx, req.TargetID, req.UserID)
	if err != nil {
		return nil, apperrors.Transient("check reciprocal like", err)
	}
	if !reciprocal {
		return res, nil
	}

	m, err := s.createMatch(ctx, req.UserID, req.TargetID)
	if err != nil {
		return nil, err
	}
	res.IsMatch = true
	res.Match = &m
	return res, nil
}

func (s *Service) takeQuota(ctx context.Context, userID uint64, liked bool) error {
	if _, err := s.appCtx.Limiter.Allow(ctx, ratelimit.ActionSwipe, userID); err != nil {
		return err
	}
	if !liked {
		return nil
	}
	if _, err := s.appCtx.Limiter.Allow(ctx, ratelimit.ActionLike, userID); err != nil {
		s.appCtx.Limiter.Refund(ctx, ratelimit.ActionSwipe, userID)
		return err
	}
	return nil
}

func (s *Service) refundQuota(ctx context.Context, userID uint64, liked bool) {
	s.appCtx.Limiter.Refund(ctx, ratelimit.ActionSwipe, userID)
	if liked {
		s.appCtx.Limiter.Refund(ctx, ratelimit.ActionLike, userID)
	}
}

// createMatch creates the pair's match at most once.
//
// The pair lock serialises creators across instances and covers only the
// insert; the unique pair index is the final guard. A lock that stays busy,
// or a lock store that is down, falls through to the index.
func (s *Service) createMatch(ctx context.Context, a, b uint64) (Match, error) {
	log := logger.FromContext(ctx, s.appCtx.Logger)
	lcfg := s.appCtx.Config.Lock
	key := lock.PairKey(a, b)

	token, err := s.appCtx.Locker.AcquireWithRetry(ctx, key, lcfg.TTL, lock.Backoff{
		Attempts: lcfg.Attempts,
		Initial:  lcfg.InitialBackoff,
		Max:      lcfg.MaxBackoff,
	})
	release := func() {}
	switch {
	case err == nil:
		metrics.LockOutcomes.WithLabelValues("acquired").Inc()
		release = func() {
			if _, err := s.appCtx.Locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn("pair lock release failed", "key", key, "err", err)
			}
		}
	case errors.Is(err, lock.ErrNotAcquired):
		metrics.LockOutcomes.WithLabelValues("busy").Inc()
		existing, ferr := s.store.FindMatch(ctx, a, b)
		if ferr != nil {
			return Match{}, apperrors.Transient("read match", ferr)
		}
		if existing != nil {
			return toMatch(*existing), nil
		}
		log.Warn("pair lock busy and no match yet, relying on unique index", "key", key)
	case ctx.Err() != nil:
		return Match{}, ctx.Err()
	default:
		metrics.LockOutcomes.WithLabelValues("error").Inc()
		log.Warn("pair lock unavailable, relying on unique index", "key", key, "err", err)
	}

	m, created, err := s.store.CreateMatchIfAbsent(ctx, a, b)
	// invalidation and the event run outside the critical section
	release()
	if err != nil {
		return Match{}, apperrors.Transient("create match", err)
	}
	if !created {
		return toMatch(m), nil
	}

	metrics.MatchesCreated.Inc()
	feed.Invalidate(ctx, s.appCtx.Cache, a, b)
	s.appCtx.Cache.Delete(ctx, cache.KeyForLikeCount(a), cache.KeyForLikeCount(b))
	s.appCtx.Events.Publish(ctx, events.ChannelMatchCreated, events.MatchCreated{
		MatchID:   m.ID,
		User1ID:   m.User1ID,
		User2ID:   m.User2ID,
		CreatedAt: m.CreatedAt,
	})
	log.Info("match created", "match_id", m.ID, "user1_id", m.User1ID, "user2_id", m.User2ID)
	return toMatch(m), nil
}

// SwipeBatch applies items in order with single swipe semantics. Item
// failures are reported and do not stop the batch; an empty or oversized
// batch is rejected as a whole.
func (s *Service) SwipeBatch(ctx context.Context, userID uint64, items []Item) (*BatchResult, error) {
	maxItems := s.appCtx.Config.Swipe.MaxBatchSize
	if userID == 0 {
		return nil, apperrors.Validation("user_id is required")
	}
	if len(items) == 0 {
		return nil, apperrors.Validation("batch is empty")
	}
	if len(items) > maxItems {
		return nil, apperrors.Validation("batch has %d items, at most %d allowed", len(items), maxItems)
	}

	out := &BatchResult{Matches: []Match{}, Failed: []ItemError{}}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := s.Swipe(ctx, Request{UserID: userID, TargetID: item.TargetID, Action: item.Action})
		if err != nil {
			out.Failed = append(out.Failed, ItemError{
				Index:    i,
				TargetID: item.TargetID,
				Kind:     apperrors.KindOf(err).String(),
				Message:  err.Error(),
			})
			continue
		}
		out.Processed++
		if item.Action == ActionLike {
			out.Likes++
		} else {
			out.Passes++
		}
		if res.IsMatch {
			out.Matches = append(out.Matches, *res.Match)
		}
	}

	s.appCtx.Logger.Debug("SwipeBatch done",
		"user_id", userID, "processed", out.Processed, "failed", len(out.Failed), "matches", len(out.Matches))
	return out, nil
}

// SendMessage stores a message inside a match the sender belongs to.
func (s *Service) SendMessage(ctx context.Context, req MessageRequest) (*MessageResult, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	m, err := s.store.GetMatchByID(ctx, req.MatchID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Transient("load match", err)
	}
	if !m.Includes(req.SenderID) {
		return nil, apperrors.NotFound("match %s not found", req.MatchID)
	}

	if _, err := s.appCtx.Limiter.Allow(ctx, ratelimit.ActionMessage, req.SenderID); err != nil {
		return nil, err
	}

	msg, err := s.store.CreateMessage(ctx, m.ID, req.SenderID, req.Body)
	if err != nil {
		s.appCtx.Limiter.Refund(ctx, ratelimit.ActionMessage, req.SenderID)
		return nil, apperrors.Transient("persist message", err)
	}

	sent, err := s.store.IncrementMessageCount(ctx, req.SenderID)
	if err != nil {
		s.appCtx.Logger.Warn("message counter not updated", "user_id", req.SenderID, "err", err)
	}

	s.appCtx.Events.Publish(ctx, events.ChannelMessageSent, events.MessageSent{
		MessageID: msg.ID,
		MatchID:   m.ID,
		SenderID:  req.SenderID,
		SentAt:    msg.CreatedAt,
	})
	return &MessageResult{MessageID: msg.ID, MatchID: m.ID, SentCount: sent, SentAt: msg.CreatedAt}, nil
}

// CountLikedYou returns how many users are waiting on userID.
// Cache-first: likes:count:{id} with the count TTL, DB on a miss.
func (s *Service) CountLikedYou(ctx context.Context, userID uint64) (int64, error) {
	if userID == 0 {
		return 0, apperrors.Validation("user_id is required")
	}
	key := cache.KeyForLikeCount(userID)

	if raw, ok := s.appCtx.Cache.Get(ctx, key); ok {
		if n, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
			return n, nil
		}
	}

	count, err := s.store.CountLikers(ctx, userID)
	if err != nil {
		return 0, apperrors.Transient("count likers", err)
	}
	s.appCtx.Cache.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), s.appCtx.Config.Cache.CountTTL)
	return count, nil
}

// ListLikedYou pages through the users waiting on userID, newest first.
func (s *Service) ListLikedYou(ctx context.Context, userID uint64, token *string, limit int) ([]Liker, *string, error) {
	if userID == 0 {
		return nil, nil, apperrors.Validation("user_id is required")
	}
	swipes, next, err := s.store.GetLikers(ctx, userID, token, pageSize(limit))
	if err != nil {
		return nil, nil, asStoreError("list likers", err)
	}
	out := make([]Liker, len(swipes))
	for i, sw := range swipes {
		out[i] = Liker{ActorID: sw.ActorID, LikedAt: sw.CreatedAt}
	}
	return out, next, nil
}

// ListMatches pages through the user's matches, newest first.
func (s *Service) ListMatches(ctx context.Context, userID uint64, token *string, limit int) ([]Match, *string, error) {
	if userID == 0 {
		return nil, nil, apperrors.Validation("user_id is required")
	}
	rows, next, err := s.store.ListMatches(ctx, userID, token, pageSize(limit))
	if err != nil {
		return nil, nil, asStoreError("list matches", err)
	}
	out := make([]Match, len(rows))
	for i, m := range rows {
		out[i] = toMatch(m)
	}
	return out, next, nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// asStoreError keeps typed errors (bad cursor) and marks the rest transient.
func asStoreError(msg string, err error) error {
	if apperrors.KindOf(err) != apperrors.KindInternal {
		return err
	}
	return apperrors.Transient(msg, err)
}
