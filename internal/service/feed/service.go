package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/cache"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/logger"
	"github.com/oggyb/muzz-matchmaker/internal/metrics"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
	"github.com/oggyb/muzz-matchmaker/internal/repository"
	"github.com/oggyb/muzz-matchmaker/internal/utils/validation"
)

// ProfileStore is the read side the feed needs from the profile store.
type ProfileStore interface {
	GetProfile(ctx context.Context, id uint64) (recommend.Profile, error)
	GetCandidatePool(ctx context.Context, viewerID uint64, f repository.PoolFilter) ([]recommend.Profile, error)
	RecordImpressions(ctx context.Context, ids []uint64) error
}

// Request asks for one page of recommendations.
type Request struct {
	UserID uint64 `json:"user_id" validate:"required"`
	// Preferences overrides the stored preferences for this request.
	Preferences *recommend.Preferences `json:"preferences,omitempty"`
	Location    *recommend.GeoPoint    `json:"location,omitempty"`
	Limit       int                    `json:"limit,omitempty" validate:"gte=0"`
	Mode        recommend.Mode         `json:"mode,omitempty" validate:"omitempty,oneof=standard quality"`
}

// Result is a composed feed plus where it came from.
type Result struct {
	Feed   recommend.Feed `json:"feed"`
	Cached bool           `json:"cached"`
}

// CuratedMatch is the stable partner chosen for a user by the curation job.
type CuratedMatch struct {
	UserID    uint64    `json:"user_id"`
	PartnerID uint64    `json:"partner_id"`
	Score     float64   `json:"score"`
	CuratedAt time.Time `json:"curated_at"`
}

// Service serves feeds through the cache and composes them on a miss.
type Service struct {
	appCtx   *app.AppContext
	profiles ProfileStore
	now      func() time.Time
}

// NewService creates a feed service backed by the profile repository.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		profiles: repository.NewProfileRepository(appCtx.DB),
		now:      time.Now,
	}
}

// WithProfileStore swaps the profile store.
func (s *Service) WithProfileStore(p ProfileStore) *Service {
	s.profiles = p
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetFeed returns the three part feed for a user.
//
// Behavior:
//  1. Validates the request; Limit 0 means the configured default.
//  2. Loads the viewer (profile cache read-through).
//  3. Looks up feed:{id}:{filterHash}; a hit is returned as is.
//  4. On a miss composes from the candidate pool, caches the feed and
//     records impressions for every shown candidate.
//
// Example:
//
//	svc.GetFeed(ctx, feed.Request{UserID: 42, Limit: 20})
func (s *Service) GetFeed(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx, s.appCtx.Logger)
	cfg := s.appCtx.Config.Feed

	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = cfg.DefaultLimit
	}
	if req.Limit > cfg.MaxLimit {
		return nil, apperrors.Validation("limit must be at most %d", cfg.MaxLimit)
	}
	if req.Mode == "" {
		req.Mode = recommend.ModeStandard
	}

	viewer, err := s.viewer(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	prefs := viewer.Preferences
	if req.Preferences != nil {
		prefs = *req.Preferences
	}

	hash, err := cache.FilterHash(struct {
		Prefs    recommend.Preferences `json:"p"`
		Location *recommend.GeoPoint   `json:"l,omitempty"`
		Limit    int                   `json:"n"`
		Mode     recommend.Mode        `json:"m"`
	}{prefs, req.Location, req.Limit, req.Mode})
	if err != nil {
		return nil, fmt.Errorf("feed cache key: %w", err)
	}
	key := cache.FeedKey(req.UserID, hash)

	var cached recommend.Feed
	if s.appCtx.Cache.GetJSON(ctx, key, &cached) {
		metrics.FeedRequests.WithLabelValues("cache", string(req.Mode)).Inc()
		log.Debug("feed served from cache", "user_id", req.UserID, "key", key)
		return &Result{Feed: cached, Cached: true}, nil
	}

	pool, err := s.profiles.GetCandidatePool(ctx, req.UserID, repository.PoolFilter{
		Genders: prefs.Genders,
		AgeMin:  prefs.AgeMin,
		AgeMax:  prefs.AgeMax,
		Limit:   cfg.PoolSize,
	})
	if err != nil {
		return nil, apperrors.Transient("load candidate pool", err)
	}

	now := s.now()
	composed, err := s.appCtx.Composer.Compose(ctx, recommend.ComposeRequest{
		Viewer:      viewer,
		Preferences: prefs,
		Context:     recommend.Context{Location: req.Location, Now: now},
		Pool:        pool,
		Limit:       req.Limit,
		Mode:        req.Mode,
		Seed:        Seed(req.UserID, now),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Scoring("compose feed", err)
	}

	s.appCtx.Cache.SetJSON(ctx, key, composed, s.appCtx.Config.Cache.FeedTTL)
	metrics.FeedRequests.WithLabelValues("composed", string(req.Mode)).Inc()

	if err := s.profiles.RecordImpressions(ctx, composed.IDs()); err != nil {
		log.Warn("record impressions failed", "user_id", req.UserID, "error", err)
	}

	log.Debug("feed composed",
		"user_id", req.UserID,
		"pool", len(pool),
		"considered", composed.Considered,
		"main", len(composed.MainFeed),
		"exploration", len(composed.ExplorationCandidates),
		"dropped", len(composed.Dropped),
	)
	return &Result{Feed: composed}, nil
}

func (s *Service) viewer(ctx context.Context, userID uint64) (recommend.Profile, error) {
	key := cache.ProfileKey(userID)
	var p recommend.Profile
	if s.appCtx.Cache.GetJSON(ctx, key, &p) {
		return p, nil
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return recommend.Profile{}, err
	}
	s.appCtx.Cache.SetJSON(ctx, key, p, s.appCtx.Config.Cache.ProfileTTL)
	return p, nil
}

// InvalidateUser drops every cached feed of the user and their cached profile.
func (s *Service) InvalidateUser(ctx context.Context, userID uint64) {
	Invalidate(ctx, s.appCtx.Cache, userID)
}

// Invalidate drops the cached feeds and profile of each user.
func Invalidate(ctx context.Context, c *cache.Cache, userIDs ...uint64) {
	for _, id := range userIDs {
		c.DeleteByPrefix(ctx, cache.FeedPrefix(id))
		c.Delete(ctx, cache.ProfileKey(id))
	}
}

// GetCuratedMatch returns the partner picked by the last curation run.
func (s *Service) GetCuratedMatch(ctx context.Context, userID uint64) (CuratedMatch, error) {
	if userID == 0 {
		return CuratedMatch{}, apperrors.Validation("user_id is required")
	}
	var m CuratedMatch
	if !s.appCtx.Cache.GetJSON(ctx, cache.CuratedKey(userID), &m) {
		return CuratedMatch{}, apperrors.NotFound("no curated match for user %d", userID)
	}
	return m, nil
}

// Seed derives the composition seed from the user and the hour, so repeated
// requests within the hour see the same shuffle and exploration sample.
func Seed(userID uint64, now time.Time) uint64 {
	hour := uint64(now.Unix() / 3600)
	x := userID*0x9e3779b97f4a7c15 ^ hour
	// splitmix64 finaliser
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
