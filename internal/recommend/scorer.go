package recommend

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// ErrFiltered is returned by Score when a hard filter excludes the candidate.
var ErrFiltered = errors.New("candidate excluded by hard filter")

// Scorer rates how well viewer and candidate fit each other. Implementations
// must be pure so a pool can be scored in parallel.
type Scorer interface {
	Score(viewer Profile, prefs Preferences, candidate Profile, ctx Context) (ScoreResult, error)
}

// Weights for the forward (viewer likes candidate) and backward (candidate
// likes viewer) estimates. Each side is a weighted mean.
type Weights struct {
	Interests float64
	Distance  float64
	Age       float64
	Embedding float64

	PrefFit      float64
	LikeRate     float64
	ResponseRate float64
	Activity     float64
}

func DefaultWeights() Weights {
	return Weights{
		Interests: 0.35,
		Distance:  0.25,
		Age:       0.2,
		Embedding: 0.2,

		PrefFit:      0.4,
		LikeRate:     0.25,
		ResponseRate: 0.15,
		Activity:     0.2,
	}
}

const (
	defaultMaxDistanceKm = 100.0
	activityHalfLife     = 72 * time.Hour
	neutral              = 0.5
)

// ReciprocalScorer combines both directions with a geometric mean so a pair
// scores low when either side is weak.
type ReciprocalScorer struct {
	W Weights
}

func NewReciprocalScorer() *ReciprocalScorer {
	return &ReciprocalScorer{W: DefaultWeights()}
}

func (s *ReciprocalScorer) Score(viewer Profile, prefs Preferences, candidate Profile, ctx Context) (ScoreResult, error) {
	if err := validateProfile(viewer); err != nil {
		return ScoreResult{}, fmt.Errorf("viewer %d: %w", viewer.ID, err)
	}
	if err := validateProfile(candidate); err != nil {
		return ScoreResult{}, fmt.Errorf("candidate %d: %w", candidate.ID, err)
	}
	if len(viewer.Embedding) > 0 && len(candidate.Embedding) > 0 && len(viewer.Embedding) != len(candidate.Embedding) {
		return ScoreResult{}, fmt.Errorf("candidate %d: embedding dims %d != %d",
			candidate.ID, len(candidate.Embedding), len(viewer.Embedding))
	}
	if !Eligible(viewer, prefs, candidate, ctx) {
		return ScoreResult{}, ErrFiltered
	}

	origin := viewer.Location
	if ctx.Location != nil {
		origin = *ctx.Location
	}
	distKm := HaversineKm(origin, candidate.Location)

	var b Breakdown
	b.Interests = jaccard(viewer.Interests, candidate.Interests)
	b.Distance = distanceFit(distKm, prefs.MaxDistanceKm)
	b.Age = ageFit(candidate.Age, prefs.AgeMin, prefs.AgeMax)

	fwd := weightedMean{}
	fwd.add(b.Interests, s.W.Interests)
	fwd.add(b.Distance, s.W.Distance)
	fwd.add(b.Age, s.W.Age)
	if cos, ok := cosine(viewer.Embedding, candidate.Embedding); ok {
		b.Embedding = (cos + 1) / 2
		fwd.add(b.Embedding, s.W.Embedding)
	} else {
		b.Embedding = neutral
	}
	b.Forward = fwd.value()

	cp := candidate.Preferences
	b.PrefFit = (ageFit(viewer.Age, cp.AgeMin, cp.AgeMax) + distanceFit(distKm, cp.MaxDistanceKm)) / 2
	b.Activity = activity(candidate.Signals.LastActiveAt, ctx.Now)

	bwd := weightedMean{}
	bwd.add(b.PrefFit, s.W.PrefFit)
	bwd.add(clamp01(candidate.Signals.LikeRate), s.W.LikeRate)
	bwd.add(clamp01(candidate.Signals.ResponseRate), s.W.ResponseRate)
	bwd.add(b.Activity, s.W.Activity)
	b.Backward = bwd.value()

	b.Reciprocal = math.Sqrt(b.Forward * b.Backward)
	if math.IsNaN(b.Reciprocal) || math.IsInf(b.Reciprocal, 0) {
		return ScoreResult{}, fmt.Errorf("candidate %d: score is not finite", candidate.ID)
	}
	return ScoreResult{Value: clamp01(b.Reciprocal), Breakdown: b}, nil
}

// Eligible applies the hard filters in both directions: the viewer's
// preferences on the candidate and the candidate's declared preferences on
// the viewer. A false result removes the candidate from every feed slot.
func Eligible(viewer Profile, prefs Preferences, candidate Profile, ctx Context) bool {
	if viewer.ID == candidate.ID {
		return false
	}
	origin := viewer.Location
	if ctx.Location != nil {
		origin = *ctx.Location
	}
	dist := HaversineKm(origin, candidate.Location)

	if !accepts(prefs, candidate, dist) {
		return false
	}
	return accepts(candidate.Preferences, viewer, dist)
}

func accepts(p Preferences, other Profile, distKm float64) bool {
	if p.AgeMin > 0 && other.Age < p.AgeMin {
		return false
	}
	if p.AgeMax > 0 && other.Age > p.AgeMax {
		return false
	}
	if !genderAccepted(p.Genders, other.Gender) {
		return false
	}
	if p.MaxDistanceKm > 0 && distKm > p.MaxDistanceKm {
		return false
	}
	for attr, bad := range p.Dealbreakers {
		if v, ok := other.Attributes[attr]; ok && strings.EqualFold(v, bad) {
			return false
		}
	}
	return true
}

func genderAccepted(genders []string, g string) bool {
	if len(genders) == 0 {
		return true
	}
	for _, want := range genders {
		if strings.EqualFold(want, GenderAny) || strings.EqualFold(want, g) {
			return true
		}
	}
	return false
}

// RankCandidates orders by score descending, then by id ascending.
func RankCandidates(cs []Candidate) {
	slices.SortFunc(cs, func(a, b Candidate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
}

func validateProfile(p Profile) error {
	if math.IsNaN(p.Location.Lat) || math.IsNaN(p.Location.Lon) ||
		math.Abs(p.Location.Lat) > 90 || math.Abs(p.Location.Lon) > 180 {
		return fmt.Errorf("invalid location %+v", p.Location)
	}
	if p.Age < 0 {
		return fmt.Errorf("invalid age %d", p.Age)
	}
	for _, v := range p.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.New("embedding has non-finite values")
		}
	}
	return nil
}

// HaversineKm is the great circle distance between two points.
func HaversineKm(a, b GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return neutral
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[strings.ToLower(s)] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		k := strings.ToLower(s)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := set[k]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return neutral
	}
	return float64(inter) / float64(union)
}

func distanceFit(km, maxKm float64) float64 {
	if maxKm <= 0 {
		maxKm = defaultMaxDistanceKm
	}
	return clamp01(1 - km/maxKm)
}

// ageFit is 1 at the middle of the range and 0.5 at its edges.
func ageFit(age, lo, hi int) float64 {
	if lo <= 0 && hi <= 0 {
		return neutral
	}
	if lo <= 0 {
		lo = hi
	}
	if hi <= 0 {
		hi = lo
	}
	mid := float64(lo+hi) / 2
	half := float64(hi-lo)/2 + 1
	return clamp01(1 - math.Abs(float64(age)-mid)/half/2)
}

func activity(last, now time.Time) float64 {
	if last.IsZero() {
		return 0.3
	}
	if now.IsZero() || !now.After(last) {
		return 1
	}
	return math.Exp2(-float64(now.Sub(last)) / float64(activityHalfLife))
}

func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

type weightedMean struct{ sum, weight float64 }

func (w *weightedMean) add(v, weight float64) {
	if weight <= 0 {
		return
	}
	w.sum += v * weight
	w.weight += weight
}

func (w *weightedMean) value() float64 {
	if w.weight == 0 {
		return neutral
	}
	return clamp01(w.sum / w.weight)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
