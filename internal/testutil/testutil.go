// Package testutil wires in-memory backends for service and transport tests.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	"github.com/oggyb/muzz-matchmaker/internal/events"
)

// Env is a fully wired AppContext over sqlite and miniredis.
type Env struct {
	App    *app.AppContext
	DB     *gorm.DB
	Redis  *miniredis.Miniredis
	Events *events.RecordingPublisher
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Config returns defaults tuned for fast tests.
func Config() *config.Config {
	cfg := config.Defaults()
	cfg.DB.Driver = "sqlite"
	cfg.Lock.Attempts = 3
	cfg.Lock.InitialBackoff = time.Millisecond
	cfg.Lock.MaxBackoff = 5 * time.Millisecond
	return &cfg
}

// DB opens a private in-memory sqlite database with the schema applied.
// A single connection keeps every goroutine on the same database.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(tb.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	return database
}

// Redis starts a miniredis and a client connected to it.
func Redis(tb testing.TB) (*miniredis.Miniredis, *redis.Client) {
	tb.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		tb.Fatalf("miniredis: %v", err)
	}
	tb.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tb.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// NewEnv builds an AppContext whose events are recorded in memory.
func NewEnv(tb testing.TB, mutate ...func(*config.Config)) *Env {
	tb.Helper()
	cfg := Config()
	for _, m := range mutate {
		m(cfg)
	}

	database := DB(tb)
	mr, client := Redis(tb)
	cfg.Redis.Addr = mr.Addr()

	log := Logger()
	appCtx := app.New(cfg, database, client, log)
	rec := &events.RecordingPublisher{}
	appCtx.Events = events.NewBestEffort(rec, log)

	return &Env{App: appCtx, DB: database, Redis: mr, Events: rec}
}

// UserSpec describes a seeded user; zero fields get sensible defaults.
type UserSpec struct {
	ID         uint64
	Gender     string
	Age        int
	Lat, Lon   float64
	Interests  []string
	LastActive time.Time
	Prefs      *db.Preference
}

// SeedUser inserts one active user near central London.
func SeedUser(tb testing.TB, database *gorm.DB, s UserSpec) db.User {
	tb.Helper()
	if s.Gender == "" {
		s.Gender = "female"
	}
	if s.Age == 0 {
		s.Age = 30
	}
	if s.Lat == 0 && s.Lon == 0 {
		s.Lat, s.Lon = 51.5074, -0.1278
	}
	if s.Interests == nil {
		s.Interests = []string{"music", "travel"}
	}
	if s.LastActive.IsZero() {
		s.LastActive = time.Now().UTC()
	}

	u := db.User{
		ID:           s.ID,
		Username:     fmt.Sprintf("user%d", s.ID),
		Email:        fmt.Sprintf("user%d@test.com", s.ID),
		PasswordHash: "x",
		Gender:       s.Gender,
		Age:          s.Age,
		Latitude:     s.Lat,
		Longitude:    s.Lon,
		Interests:    s.Interests,
		LikeRate:     0.5,
		ResponseRate: 0.5,
		Active:       true,
		LastActiveAt: s.LastActive,
	}
	if err := database.Create(&u).Error; err != nil {
		tb.Fatalf("seed user %d: %v", s.ID, err)
	}
	if s.Prefs != nil {
		p := *s.Prefs
		p.UserID = u.ID
		if err := database.Create(&p).Error; err != nil {
			tb.Fatalf("seed preferences %d: %v", s.ID, err)
		}
	}
	return u
}

// SeedUsers inserts users with ids from..to alternating gender.
func SeedUsers(tb testing.TB, database *gorm.DB, from, to uint64) {
	tb.Helper()
	for id := from; id <= to; id++ {
		gender := "female"
		if id%2 == 1 {
			gender = "male"
		}
		SeedUser(tb, database, UserSpec{ID: id, Gender: gender})
	}
}
