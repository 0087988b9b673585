package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Feed
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_feed_requests_total",
			Help: "Feed requests by source (cache, composed) and mode",
		},
		[]string{"source", "mode"},
	)

	ComposeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matchmaker_feed_compose_duration_seconds",
			Help:    "Time spent composing a feed from a candidate pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	CandidatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_candidates_dropped_total",
			Help: "Candidates dropped while scoring",
		},
		[]string{"reason"}, // "error", "panic", "filtered"
	)

	// Cache
	CacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_cache_results_total",
			Help: "Cache operations by result (hit, miss, error)",
		},
		[]string{"op", "result"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matchmaker_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// Writes
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_ratelimit_decisions_total",
			Help: "Rate limit decisions per action",
		},
		[]string{"action", "decision"}, // "allowed", "denied", "failopen", "refunded"
	)

	LockOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_lock_outcomes_total",
			Help: "Pair lock acquisition outcomes",
		},
		[]string{"outcome"}, // "acquired", "busy", "error"
	)

	Swipes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_swipes_total",
			Help: "Persisted swipes by action",
		},
		[]string{"action"},
	)

	MatchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matchmaker_matches_created_total",
			Help: "Matches created",
		},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_event_publish_failures_total",
			Help: "Events that could not be published",
		},
		[]string{"channel"},
	)

	// Jobs
	CurationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchmaker_curation_runs_total",
			Help: "Curation job runs by result",
		},
		[]string{"job", "result"},
	)

	CuratedPairs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchmaker_curated_pairs",
			Help: "Pairs produced by the last curation run",
		},
	)
)
