package swipe

import (
	"time"

	"github.com/oggyb/muzz-matchmaker/internal/db"
)

type Action string

const (
	ActionLike Action = "like"
	ActionPass Action = "pass"
)

type Request struct {
	UserID   uint64 `json:"user_id" validate:"required"`
	TargetID uint64 `json:"target_id" validate:"required,nefield=UserID"`
	Action   Action `json:"action" validate:"required,oneof=like pass"`
}

type Match struct {
	ID        string    `json:"id"`
	User1ID   uint64    `json:"user1_id"`
	User2ID   uint64    `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toMatch(m db.Match) Match {
	return Match{ID: m.ID, User1ID: m.User1ID, User2ID: m.User2ID, CreatedAt: m.CreatedAt}
}

// Result of a single swipe. Recorded is false when the pair already had a
// decision; the first decision stands.
type Result struct {
	IsMatch  bool   `json:"is_match"`
	Match    *Match `json:"match,omitempty"`
	Recorded bool   `json:"recorded"`
}

type Item struct {
	TargetID uint64 `json:"target_id"`
	Action   Action `json:"action"`
}

// ItemError reports one failed batch item.
type ItemError struct {
	Index    int    `json:"index"`
	TargetID uint64 `json:"target_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

type BatchResult struct {
	Processed int         `json:"processed"`
	Likes     int         `json:"likes"`
	Passes    int         `json:"passes"`
	Matches   []Match     `json:"matches"`
	Failed    []ItemError `json:"failed"`
}

type MessageRequest struct {
	SenderID uint64 `json:"sender_id" validate:"required"`
	MatchID  string `json:"match_id" validate:"required,uuid4"`
	Body     string `json:"body" validate:"required,max=2000"`
}

type MessageResult struct {
	MessageID uint64    `json:"message_id"`
	MatchID   string    `json:"match_id"`
	SentCount int64     `json:"sent_count"`
	SentAt    time.Time `json:"sent_at"`
}

// Liker is someone waiting on the user's answer.
type Liker struct {
	ActorID uint64    `json:"actor_id"`
	LikedAt time.Time `json:"liked_at"`
}
