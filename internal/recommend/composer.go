package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/oggyb/muzz-matchmaker/internal/metrics"
	"golang.org/x/sync/errgroup"
)

type ComposerConfig struct {
	// Cap is the choice-overload ceiling on candidates considered per request.
	Cap                 int
	ConfidenceThreshold float64
	ExplorationFraction float64
	// QualityLimit is the total number of candidates shown in quality mode.
	QualityLimit int
	Parallelism  int
}

func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		Cap:                 30,
		ConfidenceThreshold: 0.7,
		ExplorationFraction: 0.15,
		QualityLimit:        3,
		Parallelism:         8,
	}
}

type ComposeRequest struct {
	Viewer      Profile
	Preferences Preferences
	Context     Context
	// Pool is taken as delivered by the profile store; liked, passed and
	// blocked profiles are expected to be excluded already.
	Pool  []Profile
	Limit int
	Mode  Mode
	// Seed drives the cap shuffle and exploration sampling so equal
	// requests produce equal feeds.
	Seed uint64
}

type Composer struct {
	scorer  Scorer
	matcher *StableMatcher
	cfg     ComposerConfig
	log     *slog.Logger
}

func NewComposer(scorer Scorer, cfg ComposerConfig, log *slog.Logger) *Composer {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Composer{
		scorer:  scorer,
		matcher: NewStableMatcher(scorer),
		cfg:     cfg,
		log:     log,
	}
}

func (c *Composer) Config() ComposerConfig { return c.cfg }

// Compose builds the three part feed for one viewer.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (Feed, error) {
	start := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = ModeStandard
	}
	feed := Feed{Mode: mode, MainFeed: []Candidate{}, ExplorationCandidates: []Candidate{}}
	if req.Limit < 1 {
		return feed, fmt.Errorf("compose: limit must be positive, got %d", req.Limit)
	}

	rng := rand.New(rand.NewPCG(req.Seed, req.Seed^0x9e3779b97f4a7c15))
	considered := c.applyCap(req, rng)
	feed.Considered = len(considered)
	if len(considered) == 0 {
		return feed, nil
	}

	scored, dropped, err := c.scoreAll(ctx, req, considered)
	if err != nil {
		return Feed{}, err
	}
	feed.Dropped = dropped
	RankCandidates(scored)

	if mode == ModeQuality {
		err = c.partitionQuality(ctx, req, scored, &feed)
	} else {
		c.partitionStandard(req.Limit, scored, rng, &feed)
	}
	if err != nil {
		return Feed{}, err
	}

	metrics.ComposeDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	return feed, nil
}

// applyCap drops the viewer, duplicates and profiles that fail the hard
// filters, then shuffles and truncates when the eligible pool exceeds the cap.
// The pool is sorted by id first so the outcome depends only on the seed,
// never on the order the store returned.
func (c *Composer) applyCap(req ComposeRequest, rng *rand.Rand) []Profile {
	seen := make(map[uint64]struct{}, len(req.Pool))
	out := make([]Profile, 0, len(req.Pool))
	for _, p := range req.Pool {
		if p.ID == req.Viewer.ID {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		if !Eligible(req.Viewer, req.Preferences, p, req.Context) {
			metrics.CandidatesDropped.WithLabelValues("filtered").Inc()
			continue
		}
		out = append(out, p)
	}
	if c.cfg.Cap <= 0 || len(out) <= c.cfg.Cap {
		return out
	}

	slices.SortFunc(out, func(a, b Profile) int { return cmpID(a.ID, b.ID) })
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:c.cfg.Cap]
}

type scoreOutcome struct {
	cand     Candidate
	ok       bool
	filtered bool
	reason   string
}

// scoreAll scores in parallel. A candidate that errors or panics is dropped
// and recorded; only cancellation aborts the composition.
func (c *Composer) scoreAll(ctx context.Context, req ComposeRequest, pool []Profile) ([]Candidate, []DroppedCandidate, error) {
	outcomes := make([]scoreOutcome, len(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, p := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = c.scoreOne(req, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	scored := make([]Candidate, 0, len(pool))
	var dropped []DroppedCandidate
	for i, o := range outcomes {
		switch {
		case o.ok:
			scored = append(scored, o.cand)
		case o.filtered:
			metrics.CandidatesDropped.WithLabelValues("filtered").Inc()
		default:
			dropped = append(dropped, DroppedCandidate{ID: pool[i].ID, Reason: o.reason})
			c.log.Warn("candidate dropped from feed",
				"viewer_id", req.Viewer.ID, "candidate_id", pool[i].ID, "reason", o.reason)
		}
	}
	return scored, dropped, nil
}

func (c *Composer) scoreOne(req ComposeRequest, p Profile) (out scoreOutcome) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CandidatesDropped.WithLabelValues("panic").Inc()
			out = scoreOutcome{reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	res, err := c.scorer.Score(req.Viewer, req.Preferences, p, req.Context)
	switch {
	case errors.Is(err, ErrFiltered):
		return scoreOutcome{filtered: true}
	case err != nil:
		metrics.CandidatesDropped.WithLabelValues("error").Inc()
		return scoreOutcome{reason: err.Error()}
	}
	return scoreOutcome{ok: true, cand: Candidate{Profile: p, Score: res.Value, Breakdown: res.Breakdown}}
}

// ExplorationSlots is the part of limit reserved for exploration.
func (c *Composer) ExplorationSlots(limit int) int {
	if c.cfg.ExplorationFraction <= 0 || limit < 2 {
		return 0
	}
	n := int(math.Floor(float64(limit)*c.cfg.ExplorationFraction + 1e-9))
	if n == 0 && limit >= 4 {
		n = 1
	}
	return n
}

func (c *Composer) partitionStandard(limit int, ranked []Candidate, rng *rand.Rand, feed *Feed) {
	rest := ranked
	if len(rest) > 0 && rest[0].Score >= c.cfg.ConfidenceThreshold {
		top := rest[0]
		feed.MostCompatible = &top
		rest = rest[1:]
	}

	reserve := c.ExplorationSlots(limit)
	mainQuota := limit - reserve
	if mainQuota > len(rest) {
		mainQuota = len(rest)
	}
	feed.MainFeed = append(feed.MainFeed, rest[:mainQuota]...)
	feed.ExplorationCandidates = append(feed.ExplorationCandidates, sampleExploration(rest[mainQuota:], reserve, rng)...)
}

// sampleExploration draws k candidates without replacement, weighting each by
// the inverse of its recent impression count so rarely shown profiles surface.
// Score plays no part. Efraimidis-Spirakis: key = u^(1/w), keep the k largest.
func sampleExploration(pool []Candidate, k int, rng *rand.Rand) []Candidate {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	type keyed struct {
		key float64
		c   Candidate
	}
	keys := make([]keyed, len(pool))
	for i, c := range pool {
		w := ExplorationWeight(c.Profile.Signals.Impressions)
		u := rng.Float64()
		keys[i] = keyed{key: math.Pow(u, 1/w), c: c}
	}
	slices.SortFunc(keys, func(a, b keyed) int {
		switch {
		case a.key > b.key:
			return -1
		case a.key < b.key:
			return 1
		case a.c.ID() < b.c.ID():
			return -1
		case a.c.ID() > b.c.ID():
			return 1
		}
		return 0
	})
	if k > len(keys) {
		k = len(keys)
	}
	out := make([]Candidate, k)
	for i := range out {
		out[i] = keys[i].c
	}
	return out
}

// ExplorationWeight is 1/(1+impressions).
func ExplorationWeight(impressions int64) float64 {
	if impressions < 0 {
		impressions = 0
	}
	return 1 / (1 + float64(impressions))
}

// partitionQuality runs stable matching over the viewer and the considered
// candidates. The viewer's stable partner becomes MostCompatible when its
// score clears the confidence threshold; the next best ranked candidates
// fill the rest of the small curated list.
func (c *Composer) partitionQuality(ctx context.Context, req ComposeRequest, ranked []Candidate, feed *Feed) error {
	total := c.cfg.QualityLimit
	if total <= 0 || total > req.Limit {
		total = req.Limit
	}

	viewer := req.Viewer
	viewer.Preferences = req.Preferences
	users := make([]Profile, 0, len(ranked)+1)
	users = append(users, viewer)
	for _, cand := range ranked {
		users = append(users, cand.Profile)
	}
	pairs, err := c.matcher.FindMostCompatiblePairs(ctx, users, req.Context)
	if err != nil {
		return fmt.Errorf("quality mode matching: %w", err)
	}

	var partner uint64
	for _, p := range pairs {
		if p.User1 == viewer.ID || p.User2 == viewer.ID {
			partner = p.Other(viewer.ID)
			break
		}
	}

	rest := make([]Candidate, 0, len(ranked))
	for _, cand := range ranked {
		if partner != 0 && cand.ID() == partner && cand.Score >= c.cfg.ConfidenceThreshold {
			picked := cand
			feed.MostCompatible = &picked
			continue
		}
		rest = append(rest, cand)
	}
	if feed.MostCompatible == nil && len(rest) > 0 && rest[0].Score >= c.cfg.ConfidenceThreshold {
		top := rest[0]
		feed.MostCompatible = &top
		rest = rest[1:]
	}

	n := total
	if feed.MostCompatible != nil {
		n--
	}
	if n > len(rest) {
		n = len(rest)
	}
	if n > 0 {
		feed.MainFeed = append(feed.MainFeed, rest[:n]...)
	}
	return nil
}
