package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/muzz-matchmaker/internal/db"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/utils/pagination"
)

// SwipeRepository provides data access for swipes, matches and messages.
type SwipeRepository struct {
	db *gorm.DB
}

// NewSwipeRepository creates a new repository bound to the given DB connection.
func NewSwipeRepository(database *gorm.DB) *SwipeRepository {
	return &SwipeRepository{db: database}
}

// CreateSwipe records actor -> recipient.
//
// Behavior:
//   - The first decision for an ordered pair is final; a repeat is a no-op.
//   - created reports whether a new row was written.
//
// Example:
//
//	repo.CreateSwipe(ctx, 1, 2, true) // user 1 liked user 2
func (r *SwipeRepository) CreateSwipe(
	ctx context.Context,
	actorID, recipientID uint64,
	liked bool,
) (created bool, err error) {
	swipe := db.Swipe{
		ActorID:     actorID,
		RecipientID: recipientID,
		Liked:       liked,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&swipe)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// HasLiked checks whether an actor has liked a recipient.
//
// Behavior:
//   - True if a swipe row exists with actor_id = X, recipient_id = Y, liked = true.
//   - Used for the reciprocal like check on the write path.
func (r *SwipeRepository) HasLiked(
	ctx context.Context,
	actorID, recipientID uint64,
) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table("swipes s").
		Where("s.actor_id = ? AND s.recipient_id = ? AND s.liked = ?", actorID, recipientID, true).
		Count(&count).Error
	return count > 0, err
}

// CreateMatchIfAbsent inserts the match for the unordered pair unless one exists.
//
// Behavior:
//   - Pair is canonicalised (user1 < user2).
//   - The unique index idx_match_pair makes a concurrent duplicate a no-op.
//   - Returns the stored match either way; created is true only for the writer.
func (r *SwipeRepository) CreateMatchIfAbsent(
	ctx context.Context,
	a, b uint64,
) (m db.Match, created bool, err error) {
	if b < a {
		a, b = b, a
	}
	m = db.Match{User1ID: a, User2ID: b}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user1_id"}, {Name: "user2_id"}},
			DoNothing: true,
		}).
		Create(&m)
	if res.Error != nil {
		return db.Match{}, false, fmt.Errorf("create match: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return m, true, nil
	}

	existing, err := r.FindMatch(ctx, a, b)
	if err != nil {
		return db.Match{}, false, err
	}
	if existing == nil {
		return db.Match{}, false, fmt.Errorf("match %d-%d vanished after conflict", a, b)
	}
	return *existing, false, nil
}

// FindMatch returns the match for the unordered pair, or nil when none exists.
func (r *SwipeRepository) FindMatch(ctx context.Context, a, b uint64) (*db.Match, error) {
	if b < a {
		a, b = b, a
	}
	var m db.Match
	err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", a, b).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMatchByID loads a match. Unknown ids yield NotFound.
func (r *SwipeRepository) GetMatchByID(ctx context.Context, id string) (db.Match, error) {
	var m db.Match
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Match{}, apperrors.NotFound("match %s not found", id)
	}
	return m, err
}

// ListMatches returns the user's matches, newest first.
//
// Behavior:
//   - Ordered by created_at DESC, id DESC.
//   - Supports cursor-based pagination via paginationToken.
//
// Example:
//
//	repo.ListMatches(ctx, 42, nil, 20)
func (r *SwipeRepository) ListMatches(
	ctx context.Context,
	userID uint64,
	paginationToken *string,
	limit int,
) ([]db.Match, *string, error) {
	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, apperrors.Validation("%v", err)
	}

	query := r.db.WithContext(ctx).
		Table("matches m").
		Where("m.user1_id = ? OR m.user2_id = ?", userID, userID).
		Order("m.created_at DESC, m.id DESC").
		Limit(limit + 1)

	if !cursor.IsZero() {
		ts := time.UnixMilli(cursor.At).UTC()
		query = query.Where(
			"(m.created_at < ? OR (m.created_at = ? AND m.id < ?))",
			ts, ts, cursor.Key,
		)
	}

	var matches []db.Match
	if err := query.Find(&matches).Error; err != nil {
		return nil, nil, err
	}

	var nextToken *string
	if len(matches) > limit {
		last := matches[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			Key: last.ID,
			At:  last.CreatedAt.UnixMilli(),
		})
		nextToken = &token
		matches = matches[:limit]
	}
	return matches, nextToken, nil
}

// GetLikers returns swipes that liked the given recipient and are still
// waiting for an answer.
//
// Behavior:
//   - Only swipes where recipient_id = X and liked = true.
//   - Excludes actors the recipient already swiped on (liked back or passed).
//   - Ordered by created_at DESC, actor_id DESC.
//   - Supports cursor-based pagination via paginationToken.
//
// Example:
//
//	repo.GetLikers(ctx, 42, nil, 20) // first 20 people waiting on user 42
func (r *SwipeRepository) GetLikers(
	ctx context.Context,
	recipientID uint64,
	paginationToken *string,
	limit int,
) ([]db.Swipe, *string, error) {
	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, apperrors.Validation("%v", err)
	}

	query := r.likersQuery(ctx, recipientID).
		Order("s.created_at DESC, s.actor_id DESC").
		Limit(limit + 1)

	if !cursor.IsZero() {
		actorID, err := strconv.ParseUint(cursor.Key, 10, 64)
		if err != nil {
			return nil, nil, apperrors.Validation("invalid pagination token")
		}
		ts := time.UnixMilli(cursor.At).UTC()
		query = query.Where(
			"(s.created_at < ? OR (s.created_at = ? AND s.actor_id < ?))",
			ts, ts, actorID,
		)
	}

	var swipes []db.Swipe
	if err := query.Find(&swipes).Error; err != nil {
		return nil, nil, err
	}

	var nextToken *string
	if len(swipes) > limit {
		last := swipes[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			Key: strconv.FormatUint(last.ActorID, 10),
			At:  last.CreatedAt.UnixMilli(),
		})
		nextToken = &token
		swipes = swipes[:limit]
	}
	return swipes, nextToken, nil
}

// CountLikers returns how many users are waiting on the recipient.
//
// Behavior:
//   - Same filter as GetLikers.
//   - Used in conjunction with the likes:count cache entry (DB is fallback).
func (r *SwipeRepository) CountLikers(
	ctx context.Context,
	recipientID uint64,
) (int64, error) {
	var count int64
	if err := r.likersQuery(ctx, recipientID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SwipeRepository) likersQuery(ctx context.Context, recipientID uint64) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("swipes s").
		Where("s.recipient_id = ? AND s.liked = ?", recipientID, true).
		Where(`
			NOT EXISTS (
				SELECT 1 FROM swipes s2
				WHERE s2.actor_id = ?
				  AND s2.recipient_id = s.actor_id
			)`, recipientID)
}

// CreateMessage stores a message and bumps the match's message count in one
// transaction.
func (r *SwipeRepository) CreateMessage(
	ctx context.Context,
	matchID string,
	senderID uint64,
	body string,
) (db.Message, error) {
	msg := db.Message{MatchID: matchID, SenderID: senderID, Body: body}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return tx.Model(&db.Match{}).
			Where("id = ?", matchID).
			UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error
	})
	return msg, err
}

// IncrementMessageCount bumps the sender's lifetime message counter.
//
// Behavior:
//   - Inserts the counter row at 1 on first use, otherwise adds 1.
//   - Returns the new value.
func (r *SwipeRepository) IncrementMessageCount(ctx context.Context, userID uint64) (int64, error) {
	row := db.MessageCounter{UserID: userID, Sent: 1}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"sent":       gorm.Expr("message_counters.sent + 1"),
				"updated_at": r.db.NowFunc(),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return 0, err
	}

	var counter db.MessageCounter
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Sent, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
