// Package recommend holds the pure scoring, feed composition and stable
// matching logic. Nothing in here performs I/O.
package recommend

import (
	"time"
)

type Mode string

const (
	ModeStandard Mode = "standard"
	// ModeQuality shows a handful of curated candidates instead of a long ranked list.
	ModeQuality Mode = "quality"
)

// GenderAny in Preferences.Genders disables the gender filter.
const GenderAny = "any"

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Preferences struct {
	AgeMin        int     `json:"age_min,omitempty"`
	AgeMax        int     `json:"age_max,omitempty"`
	MaxDistanceKm float64 `json:"max_distance_km,omitempty"`
	// Genders accepted; empty or containing GenderAny accepts everyone.
	Genders []string `json:"genders,omitempty"`
	// Dealbreakers maps an attribute to a disqualifying value.
	Dealbreakers map[string]string `json:"dealbreakers,omitempty"`
}

// Signals are aggregate behaviour figures used to estimate how a profile
// responds to others.
type Signals struct {
	LikeRate     float64   `json:"like_rate"`     // share of swipes that were likes
	ResponseRate float64   `json:"response_rate"` // share of matches the user messaged in
	LastActiveAt time.Time `json:"last_active_at"`
	Impressions  int64     `json:"impressions"` // recent, decayed
}

type Profile struct {
	ID          uint64            `json:"id"`
	Age         int               `json:"age"`
	Gender      string            `json:"gender"`
	Location    GeoPoint          `json:"location"`
	Interests   []string          `json:"interests,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Embedding   []float32         `json:"embedding,omitempty"`
	Preferences Preferences       `json:"preferences"`
	Signals     Signals           `json:"signals"`
}

// Context carries request time information.
type Context struct {
	// Location overrides the viewer's stored location when set.
	Location *GeoPoint `json:"location,omitempty"`
	Now      time.Time `json:"now"`
}

// Breakdown lists the per-component scores, all in [0,1].
type Breakdown struct {
	Interests  float64 `json:"interests"`
	Distance   float64 `json:"distance"`
	Age        float64 `json:"age"`
	Embedding  float64 `json:"embedding"`
	PrefFit    float64 `json:"pref_fit"`
	Activity   float64 `json:"activity"`
	Forward    float64 `json:"forward"`
	Backward   float64 `json:"backward"`
	Reciprocal float64 `json:"reciprocal"`
}

type ScoreResult struct {
	Value     float64   `json:"value"`
	Breakdown Breakdown `json:"breakdown"`
}

type Candidate struct {
	Profile   Profile   `json:"profile"`
	Score     float64   `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
}

func (c Candidate) ID() uint64 { return c.Profile.ID }

// DroppedCandidate records a candidate removed because scoring failed.
type DroppedCandidate struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

// Feed is the three part output. A candidate id appears in at most one slot.
type Feed struct {
	MostCompatible        *Candidate         `json:"most_compatible"`
	MainFeed              []Candidate        `json:"main_feed"`
	ExplorationCandidates []Candidate        `json:"exploration_candidates"`
	Mode                  Mode               `json:"mode"`
	Considered            int                `json:"considered"`
	Dropped               []DroppedCandidate `json:"dropped,omitempty"`
}

// IDs returns every candidate id in slot order.
func (f Feed) IDs() []uint64 {
	var ids []uint64
	if f.MostCompatible != nil {
		ids = append(ids, f.MostCompatible.ID())
	}
	for _, c := range f.MainFeed {
		ids = append(ids, c.ID())
	}
	for _, c := range f.ExplorationCandidates {
		ids = append(ids, c.ID())
	}
	return ids
}

// Pair is an unordered pair of users stored with the smaller id first.
type Pair struct {
	User1 uint64 `json:"user1"`
	User2 uint64 `json:"user2"`
}

func NewPair(a, b uint64) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{User1: a, User2: b}
}

// Other returns the partner of id within the pair.
func (p Pair) Other(id uint64) uint64 {
	if p.User1 == id {
		return p.User2
	}
	return p.User1
}
