package db

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var seedInterests = []string{
	"hiking", "cooking", "travel", "music", "film", "reading", "gym",
	"gaming", "art", "photography", "coffee", "football", "yoga", "tech",
}

// SeedTestData resets the database and populates it with demo profiles and swipes.
//
// Behavior:
//  1. Clears every table.
//  2. Creates n users (half male, half female) around London with random
//     ages, interests, preferences and activity.
//  3. Generates ~12 swipes per user with ~70% likes; every 3rd like is
//     reciprocated so the demo has matches to find.
//
// Compatible with MySQL, Postgres and SQLite.
func SeedTestData(db *gorm.DB, n int, log *slog.Logger) error {
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

	if err := clearAll(db); err != nil {
		return err
	}
	log.Info("cleared existing data")

	// one hash for every demo account, bcrypt is slow on purpose
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	users := make([]User, 0, n)
	for i := 1; i <= n; i++ {
		gender := "male"
		if i > n/2 {
			gender = "female"
		}
		users = append(users, User{
			Username:     fmt.Sprintf("user%d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: string(hash),
			Gender:       gender,
			Age:          20 + r.IntN(20),
			Latitude:     51.5074 + (r.Float64()-0.5)*0.6,
			Longitude:    -0.1278 + (r.Float64()-0.5)*0.9,
			Interests:    pickInterests(r, 2+r.IntN(4)),
			Attributes:   map[string]string{"smoking": []string{"no", "yes"}[r.IntN(2)]},
			LikeRate:     r.Float64(),
			ResponseRate: r.Float64(),
			Active:       true,
			LastActiveAt: time.Now().Add(-time.Duration(r.IntN(500)) * time.Hour),
		})
	}
	if err := db.CreateInBatches(&users, 100).Error; err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	prefs := make([]Preference, 0, len(users))
	for _, u := range users {
		want := "female"
		if u.Gender == "female" {
			want = "male"
		}
		prefs = append(prefs, Preference{
			UserID:        u.ID,
			AgeMin:        max(18, u.Age-8),
			AgeMax:        u.Age + 8,
			MaxDistanceKm: 50,
			Genders:       []string{want},
		})
	}
	if err := db.CreateInBatches(&prefs, 100).Error; err != nil {
		return fmt.Errorf("failed to seed preferences: %w", err)
	}
	log.Info("seeded users", "count", len(users))

	swipes := 0
	likes := 0
	for _, actor := range users {
		for j := 0; j < 12; j++ {
			recipient := users[r.IntN(len(users))]
			if recipient.ID == actor.ID || recipient.Gender == actor.Gender {
				continue
			}

			liked := r.IntN(100) < 70
			if err := insertSwipe(db, actor.ID, recipient.ID, liked); err != nil {
				return err
			}
			swipes++

			if !liked {
				continue
			}
			likes++
			if likes%3 == 0 {
				if err := insertSwipe(db, recipient.ID, actor.ID, true); err != nil {
					return err
				}
			}
			if err := matchIfMutual(db, actor.ID, recipient.ID); err != nil {
				return err
			}
		}
	}
	log.Info("seeded swipes", "count", swipes)

	return nil
}

// SeedMinimalTestData creates three users and a handful of swipes.
//
//	user1 (male)   <-> user2 (female)  mutual like, matched
//	user3 (female)  -> user1            one way like
//	user1           -> user3            pass
func SeedMinimalTestData(db *gorm.DB) error {
	if err := clearAll(db); err != nil {
		return err
	}

	now := time.Now()
	users := []User{
		{ID: 1, Username: "user1", Email: "u1@test.com", PasswordHash: "x", Gender: "male", Age: 30, Latitude: 51.5, Longitude: -0.12, Active: true, LastActiveAt: now},
		{ID: 2, Username: "user2", Email: "u2@test.com", PasswordHash: "x", Gender: "female", Age: 28, Latitude: 51.51, Longitude: -0.13, Active: true, LastActiveAt: now},
		{ID: 3, Username: "user3", Email: "u3@test.com", PasswordHash: "x", Gender: "female", Age: 31, Latitude: 51.49, Longitude: -0.11, Active: true, LastActiveAt: now},
	}
	if err := db.Create(&users).Error; err != nil {
		return err
	}

	swipes := []Swipe{
		{ActorID: 1, RecipientID: 2, Liked: true},
		{ActorID: 2, RecipientID: 1, Liked: true},
		{ActorID: 3, RecipientID: 1, Liked: true},
		{ActorID: 1, RecipientID: 3, Liked: false},
	}
	if err := db.Create(&swipes).Error; err != nil {
		return err
	}
	return seedMatch(db, 1, 2)
}

func clearAll(db *gorm.DB) error {
	for _, table := range []string{"messages", "message_counters", "matches", "blocks", "swipes", "preferences", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE users AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE messages AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name IN ('users', 'messages')")
	case "postgres":
		db.Exec("ALTER SEQUENCE users_id_seq RESTART WITH 1")
		db.Exec("ALTER SEQUENCE messages_id_seq RESTART WITH 1")
	}
	return nil
}

func insertSwipe(db *gorm.DB, actorID, recipientID uint64, liked bool) error {
	s := Swipe{ActorID: actorID, RecipientID: recipientID, Liked: liked}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error; err != nil {
		return fmt.Errorf("failed to seed swipe: %w", err)
	}
	return nil
}

// matchIfMutual seeds the pair's match only when both stored swipes are likes.
// A pass already on record wins over a later like, since swipes never change.
func matchIfMutual(db *gorm.DB, a, b uint64) error {
	var n int64
	err := db.Model(&Swipe{}).
		Where("((actor_id = ? AND recipient_id = ?) OR (actor_id = ? AND recipient_id = ?)) AND liked = ?", a, b, b, a, true).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("failed to check mutual like: %w", err)
	}
	if n < 2 {
		return nil
	}
	return seedMatch(db, a, b)
}

func seedMatch(db *gorm.DB, a, b uint64) error {
	if b < a {
		a, b = b, a
	}
	m := Match{User1ID: a, User2ID: b}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to seed match: %w", err)
	}
	return nil
}

func pickInterests(r *rand.Rand, n int) []string {
	perm := r.Perm(len(seedInterests))
	out := make([]string, 0, n)
	for _, i := range perm[:n] {
		out = append(out, seedInterests[i])
	}
	return out
}
