// Package curation runs the background jobs: the daily stable pairing that
// fills curated:{id}, and the periodic impression decay.
package curation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/events"
	"github.com/oggyb/muzz-matchmaker/internal/metrics"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
	"github.com/oggyb/muzz-matchmaker/internal/repository"
	"github.com/oggyb/muzz-matchmaker/internal/service/feed"
)

// ProfileSource is what the jobs read and update.
type ProfileSource interface {
	ListActiveProfiles(ctx context.Context, limit int) ([]recommend.Profile, error)
	DecayImpressions(ctx context.Context) (int64, error)
}

// Report summarises one curation run.
type Report struct {
	Considered int           `json:"considered"`
	Pairs      int           `json:"pairs"`
	Blocking   int           `json:"blocking"`
	Took       time.Duration `json:"took"`
}

type Service struct {
	appCtx   *app.AppContext
	profiles ProfileSource
	now      func() time.Time

	mu      sync.Mutex
	running bool // guards against overlapping curation runs
	sched   *cron.Cron
}

func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:   appCtx,
		profiles: repository.NewProfileRepository(appCtx.DB),
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RunOnce pairs the active pool with deferred acceptance and stores each
// user's partner under curated:{id} for the curated TTL.
//
// Behavior:
//   - Skips (returns a zero Report) when a run is already in progress.
//   - Each matched user gets an entry; unmatched users keep any previous one
//     until it expires.
//   - Publishes curation.completed when done.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	log := s.appCtx.Logger.With("job", "curate")

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Warn("curation already running, skipping")
		return Report{}, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	users, err := s.profiles.ListActiveProfiles(ctx, s.appCtx.Config.Curation.PoolSize)
	if err != nil {
		metrics.CurationRuns.WithLabelValues("curate", "error").Inc()
		return Report{}, fmt.Errorf("load pool: %w", err)
	}

	rc := recommend.Context{Now: start}
	pairs, err := s.appCtx.Matcher.FindMostCompatiblePairs(ctx, users, rc)
	if err != nil {
		metrics.CurationRuns.WithLabelValues("curate", "error").Inc()
		return Report{}, fmt.Errorf("stable matching: %w", err)
	}

	byID := make(map[uint64]recommend.Profile, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	ttl := s.appCtx.Config.Cache.CuratedTTL
	for _, p := range pairs {
		for _, id := range []uint64{p.User1, p.User2} {
			partner := p.Other(id)
			s.appCtx.Cache.SetJSON(ctx, cache.CuratedKey(id), feed.CuratedMatch{
				UserID:    id,
				PartnerID: partner,
				Score:     s.pairScore(byID[id], byID[partner], rc),
				CuratedAt: start.UTC(),
			}, ttl)
		}
	}

	rep := Report{Considered: len(users), Pairs: len(pairs), Took: s.now().Sub(start)}
	if blocking, err := s.appCtx.Matcher.BlockingPairs(ctx, users, pairs, rc); err != nil {
		log.Warn("stability check failed", "err", err)
	} else {
		rep.Blocking = len(blocking)
	}

	metrics.CurationRuns.WithLabelValues("curate", "ok").Inc()
	metrics.CuratedPairs.Set(float64(len(pairs)))
	s.appCtx.Events.Publish(ctx, events.ChannelCurationCompleted, events.CurationCompleted{
		Pairs:      rep.Pairs,
		Considered: rep.Considered,
		FinishedAt: s.now().UTC(),
	})
	log.Info("curation finished",
		"considered", rep.Considered, "pairs", rep.Pairs, "blocking", rep.Blocking, "took", rep.Took)
	return rep, nil
}

func (s *Service) pairScore(u, partner recommend.Profile, rc recommend.Context) float64 {
	res, err := s.appCtx.Scorer.Score(u, u.Preferences, partner, rc)
	if err != nil {
		return 0
	}
	return res.Value
}

// Decay halves every user's impression count.
func (s *Service) Decay(ctx context.Context) (int64, error) {
	n, err := s.profiles.DecayImpressions(ctx)
	if err != nil {
		metrics.CurationRuns.WithLabelValues("decay", "error").Inc()
		return 0, fmt.Errorf("decay impressions: %w", err)
	}
	metrics.CurationRuns.WithLabelValues("decay", "ok").Inc()
	s.appCtx.Logger.Info("impressions decayed", "job", "decay", "rows", n)
	return n, nil
}

// Start registers both jobs on their configured schedules and starts the
// scheduler. Jobs run with ctx; cancel it, or call Stop, to shut down.
func (s *Service) Start(ctx context.Context) error {
	cfg := s.appCtx.Config.Curation
	c := cron.New()

	if _, err := c.AddFunc(cfg.Schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.appCtx.Logger.Error("curation run failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("curation schedule %q: %w", cfg.Schedule, err)
	}
	if _, err := c.AddFunc(cfg.DecaySchedule, func() {
		if _, err := s.Decay(ctx); err != nil {
			s.appCtx.Logger.Error("impression decay failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("decay schedule %q: %w", cfg.DecaySchedule, err)
	}

	s.mu.Lock()
	s.sched = c
	s.mu.Unlock()
	c.Start()
	s.appCtx.Logger.Info("curation scheduler started", "schedule", cfg.Schedule, "decay_schedule", cfg.DecaySchedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for running jobs. Safe to call twice.
func (s *Service) Stop() {
	s.mu.Lock()
	c := s.sched
	s.sched = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.appCtx.Logger.Info("curation scheduler stopped")
}
