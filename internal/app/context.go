package app

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/oggyb/muzz-matchmaker/internal/events"
	"github.com/oggyb/muzz-matchmaker/internal/lock"
	"github.com/oggyb/muzz-matchmaker/internal/ratelimit"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
)

// AppContext holds shared dependencies (DB, Redis, Logger, etc.)
type AppContext struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  redis.UniversalClient
	Logger *slog.Logger

	Cache    *cache.Cache
	Limiter  *ratelimit.Limiter
	Locker   *lock.Locker
	Events   *events.BestEffort
	Scorer   recommend.Scorer
	Composer *recommend.Composer
	Matcher  *recommend.StableMatcher
}

// New wires the Redis backed stores and the recommendation engine.
// Fields may be replaced afterwards, e.g. with in-memory stores in tests.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, logger *slog.Logger) *AppContext {
	scorer := recommend.NewReciprocalScorer()

	return &AppContext{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Logger: logger,

		Cache: cache.New(cache.NewRedisCache(rdb), cache.Options{
			Name:             "redis-cache",
			FailureThreshold: cfg.Cache.BreakerFailures,
			OpenTimeout:      cfg.Cache.BreakerTimeout,
		}, logger.With("component", "cache")),
		Limiter:  ratelimit.New(ratelimit.NewRedisStore(rdb), ratelimit.PoliciesFromConfig(cfg), logger.With("component", "ratelimit")),
		Locker:   lock.NewLocker(lock.NewRedisStore(rdb)),
		Events:   events.NewBestEffort(events.NewRedisPublisher(rdb), logger.With("component", "events")),
		Scorer:   scorer,
		Composer: recommend.NewComposer(scorer, ComposerConfig(cfg), logger.With("component", "composer")),
		Matcher:  recommend.NewStableMatcher(scorer),
	}
}

// ComposerConfig maps the feed settings onto the composer. The choice
// overload cap is held within [15, 50].
func ComposerConfig(cfg *config.Config) recommend.ComposerConfig {
	return recommend.ComposerConfig{
		Cap:                 min(max(cfg.Feed.Cap, 15), 50),
		ConfidenceThreshold: cfg.Feed.ConfidenceThreshold,
		ExplorationFraction: cfg.Feed.ExplorationFraction,
		QualityLimit:        cfg.Feed.QualityLimit,
		Parallelism:         cfg.Feed.Parallelism,
	}
}
