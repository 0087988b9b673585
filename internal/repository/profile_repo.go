package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/muzz-matchmaker/internal/db"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
)

// ProfileRepository is the profile store: profiles, preferences and the
// candidate pool query.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(database *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: database}
}

// PoolFilter narrows the candidate pool in SQL. It is a coarse prefilter;
// the scorer applies the exact hard filters.
type PoolFilter struct {
	Genders []string
	AgeMin  int
	AgeMax  int
	Limit   int
}

// CreateUser inserts a user and, when prefs is non-nil, their preferences.
func (r *ProfileRepository) CreateUser(ctx context.Context, u *db.User, prefs *db.Preference) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if prefs == nil {
			return nil
		}
		prefs.UserID = u.ID
		return tx.Create(prefs).Error
	})
}

// Exists reports whether an active user with id exists.
func (r *ProfileRepository) Exists(ctx context.Context, id uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ? AND active = ?", id, true).
		Count(&count).Error
	return count > 0, err
}

// GetProfile loads a user with their preferences. Unknown ids yield NotFound.
func (r *ProfileRepository) GetProfile(ctx context.Context, id uint64) (recommend.Profile, error) {
	var u db.User
	err := r.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return recommend.Profile{}, apperrors.NotFound("user %d not found", id)
	}
	if err != nil {
		return recommend.Profile{}, err
	}

	prefs, err := r.GetPreferences(ctx, id)
	if err != nil {
		return recommend.Profile{}, err
	}
	p := ToProfile(u)
	p.Preferences = prefs
	return p, nil
}

// GetPreferences returns the stored preferences, or none when never set.
func (r *ProfileRepository) GetPreferences(ctx context.Context, userID uint64) (recommend.Preferences, error) {
	var p db.Preference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&p).Error
	if err != nil {
		return recommend.Preferences{}, err
	}
	if p.UserID == 0 {
		return recommend.Preferences{}, nil
	}
	return toPreferences(p), nil
}

// UpsertPreferences replaces a user's preferences.
func (r *ProfileRepository) UpsertPreferences(ctx context.Context, userID uint64, prefs recommend.Preferences) error {
	row := db.Preference{
		UserID:        userID,
		AgeMin:        prefs.AgeMin,
		AgeMax:        prefs.AgeMax,
		MaxDistanceKm: prefs.MaxDistanceKm,
		Genders:       prefs.Genders,
		Dealbreakers:  prefs.Dealbreakers,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"age_min", "age_max", "max_distance_km", "genders", "dealbreakers", "updated_at"}),
		}).
		Create(&row).Error
}

// GetCandidatePool returns active users the viewer has not swiped on and
// with no block in either direction, most recently active first.
//
// Example:
//
//	repo.GetCandidatePool(ctx, 42, PoolFilter{Genders: []string{"female"}, Limit: 500})
func (r *ProfileRepository) GetCandidatePool(ctx context.Context, viewerID uint64, f PoolFilter) ([]recommend.Profile, error) {
	query := r.db.WithContext(ctx).
		Table("users u").
		Where("u.active = ? AND u.id <> ?", true, viewerID).
		Where("NOT EXISTS (SELECT 1 FROM swipes s WHERE s.actor_id = ? AND s.recipient_id = u.id)", viewerID).
		Where(`NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.blocker_id = ? AND b.blocked_id = u.id)
			   OR (b.blocker_id = u.id AND b.blocked_id = ?)
		)`, viewerID, viewerID).
		Order("u.last_active_at DESC, u.id ASC")

	if genders := concreteGenders(f.Genders); len(genders) > 0 {
		query = query.Where("u.gender IN ?", genders)
	}
	if f.AgeMin > 0 {
		query = query.Where("u.age >= ?", f.AgeMin)
	}
	if f.AgeMax > 0 {
		query = query.Where("u.age <= ?", f.AgeMax)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var users []db.User
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("candidate pool: %w", err)
	}
	return r.attachPreferences(ctx, users)
}

// ListActiveProfiles returns up to limit active users, most recently active first.
func (r *ProfileRepository) ListActiveProfiles(ctx context.Context, limit int) ([]recommend.Profile, error) {
	var users []db.User
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("last_active_at DESC, id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return r.attachPreferences(ctx, users)
}

// RecordImpressions bumps the impression counter of every shown profile.
func (r *ProfileRepository) RecordImpressions(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id IN ?", ids).
		UpdateColumn("impression_count", gorm.Expr("impression_count + 1")).Error
}

// DecayImpressions halves every impression counter (rounding up), so the
// counter reflects recent exposure.
func (r *ProfileRepository) DecayImpressions(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("impression_count > 0").
		UpdateColumn("impression_count", gorm.Expr("impression_count - impression_count / 2"))
	return res.RowsAffected, res.Error
}

// RecordSwipe updates the actor's swipe counters and activity timestamp.
func (r *ProfileRepository) RecordSwipe(ctx context.Context, actorID uint64, liked bool) error {
	likeInc := 0
	if liked {
		likeInc = 1
	}
	return r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ?", actorID).
		UpdateColumns(map[string]any{
			"swipe_count":    gorm.Expr("swipe_count + 1"),
			"like_count":     gorm.Expr("like_count + ?", likeInc),
			"last_active_at": r.db.NowFunc(),
		}).Error
}

func (r *ProfileRepository) attachPreferences(ctx context.Context, users []db.User) ([]recommend.Profile, error) {
	if len(users) == 0 {
		return []recommend.Profile{}, nil
	}
	ids := make([]uint64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	var prefs []db.Preference
	if err := r.db.WithContext(ctx).Where("user_id IN ?", ids).Find(&prefs).Error; err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	byUser := make(map[uint64]db.Preference, len(prefs))
	for _, p := range prefs {
		byUser[p.UserID] = p
	}

	out := make([]recommend.Profile, len(users))
	for i, u := range users {
		out[i] = ToProfile(u)
		if p, ok := byUser[u.ID]; ok {
			out[i].Preferences = toPreferences(p)
		}
	}
	return out, nil
}

// ToProfile maps a user row onto the scoring model.
func ToProfile(u db.User) recommend.Profile {
	likeRate := u.LikeRate
	if u.SwipeCount > 0 {
		likeRate = float64(u.LikeCount) / float64(u.SwipeCount)
	}
	return recommend.Profile{
		ID:         u.ID,
		Age:        u.Age,
		Gender:     u.Gender,
		Location:   recommend.GeoPoint{Lat: u.Latitude, Lon: u.Longitude},
		Interests:  u.Interests,
		Attributes: u.Attributes,
		Embedding:  u.Embedding,
		Signals: recommend.Signals{
			LikeRate:     likeRate,
			ResponseRate: u.ResponseRate,
			LastActiveAt: u.LastActiveAt,
			Impressions:  u.ImpressionCount,
		},
	}
}

func toPreferences(p db.Preference) recommend.Preferences {
	return recommend.Preferences{
		AgeMin:        p.AgeMin,
		AgeMax:        p.AgeMax,
		MaxDistanceKm: p.MaxDistanceKm,
		Genders:       p.Genders,
		Dealbreakers:  p.Dealbreakers,
	}
}

func concreteGenders(gs []string) []string {
	for _, g := range gs {
		if g == recommend.GenderAny {
			return nil
		}
	}
	return gs
}
