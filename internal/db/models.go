package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User table. Holds the account and the public profile used for matching.
type User struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	Email        string `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Active       bool   `gorm:"default:true;index:idx_active_seen,priority:1"`
	Gender       string `gorm:"size:16;not null"`
	Age          int    `gorm:"not null"`

	Latitude  float64
	Longitude float64

	Interests  []string          `gorm:"serializer:json;type:text"`
	Attributes map[string]string `gorm:"serializer:json;type:text"`
	Embedding  []float32         `gorm:"serializer:json;type:text"`

	// aggregate behaviour signals, refreshed by the write path and jobs
	LikeRate        float64
	ResponseRate    float64
	ImpressionCount int64
	SwipeCount      int64
	LikeCount       int64

	LastActiveAt time.Time `gorm:"index:idx_active_seen,priority:2,sort:desc"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// Preference holds a user's declared filters. Missing row means no filters.
type Preference struct {
	UserID        uint64            `gorm:"primaryKey;autoIncrement:false"`
	AgeMin        int               `gorm:"not null;default:0"`
	AgeMax        int               `gorm:"not null;default:0"`
	MaxDistanceKm float64           `gorm:"not null;default:0"`
	Genders       []string          `gorm:"serializer:json;type:text"`
	Dealbreakers  map[string]string `gorm:"serializer:json;type:text"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime"`
}

// Swipe records an actor's like/pass decision on a recipient.
//
// Composite PK: (ActorID, RecipientID)
//   - One row per ordered pair; the first decision is final.
//
// Indexes:
//   - idx_recipient_liked_created_actor(recipient_id, liked, created_at DESC, actor_id)
//     Serves "who liked me" lists with pagination.
//   - idx_actor_recipient_liked(actor_id, recipient_id, liked)
//     O(1) lookup for the reciprocal like check.
type Swipe struct {
	ActorID     uint64    `gorm:"primaryKey;autoIncrement:false;index:idx_actor_recipient_liked,priority:1;index:idx_recipient_liked_created_actor,priority:4"`
	RecipientID uint64    `gorm:"primaryKey;autoIncrement:false;index:idx_recipient_liked_created_actor,priority:1;index:idx_actor_recipient_liked,priority:2"`
	Liked       bool      `gorm:"not null;index:idx_recipient_liked_created_actor,priority:2;index:idx_actor_recipient_liked,priority:3"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index:idx_recipient_liked_created_actor,priority:3,sort:desc"`
}

// Block hides both users from each other's candidate pools.
type Block struct {
	BlockerID uint64    `gorm:"primaryKey;autoIncrement:false"`
	BlockedID uint64    `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Match is created at most once per unordered pair. User1ID < User2ID and the
// unique index on the pair backs the distributed lock.
type Match struct {
	ID           string    `gorm:"primaryKey;size:36"`
	User1ID      uint64    `gorm:"not null;uniqueIndex:idx_match_pair,priority:1"`
	User2ID      uint64    `gorm:"not null;uniqueIndex:idx_match_pair,priority:2;index"`
	MessageCount int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index"`
}

func (m *Match) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Includes reports whether userID is one side of the match.
func (m Match) Includes(userID uint64) bool {
	return m.User1ID == userID || m.User2ID == userID
}

type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MatchID   string    `gorm:"size:36;not null;index:idx_match_created,priority:1"`
	SenderID  uint64    `gorm:"not null"`
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_match_created,priority:2"`
}

// MessageCounter tracks how many messages a user has sent.
type MessageCounter struct {
	UserID    uint64    `gorm:"primaryKey;autoIncrement:false"`
	Sent      int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Preference{}, &Swipe{}, &Block{}, &Match{}, &Message{}, &MessageCounter{}}
}
