package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oggyb/muzz-matchmaker/internal/db"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
	"github.com/oggyb/muzz-matchmaker/internal/repository"
)

// setup in-memory DB
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(database))
	return database
}

func addUser(t *testing.T, database *gorm.DB, id uint64, gender string, age int, lastActive time.Time) {
	t.Helper()
	u := db.User{
		ID:           id,
		Username:     fmt.Sprintf("user%d", id),
		Email:        fmt.Sprintf("user%d@test.com", id),
		PasswordHash: "x",
		Gender:       gender,
		Age:          age,
		Latitude:     51.5,
		Longitude:    -0.12,
		Interests:    []string{"music"},
		Active:       true,
		LastActiveAt: lastActive,
	}
	require.NoError(t, database.Create(&u).Error)
}

func TestCreateSwipe_FirstDecisionIsFinal(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	created, err := repo.CreateSwipe(ctx, 1, 2, true)
	assert.NoError(t, err)
	assert.True(t, created)

	// a later pass does not overwrite the like
	created, err = repo.CreateSwipe(ctx, 1, 2, false)
	assert.NoError(t, err)
	assert.False(t, created)

	var s db.Swipe
	require.NoError(t, dbase.First(&s).Error)
	assert.True(t, s.Liked)

	liked, err := repo.HasLiked(ctx, 1, 2)
	assert.NoError(t, err)
	assert.True(t, liked)

	liked, err = repo.HasLiked(ctx, 2, 1)
	assert.NoError(t, err)
	assert.False(t, liked)
}

func TestGetLikersAndCount(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	// actors 1,2,3 liked recipient 99
	for _, actor := range []uint64{1, 2, 3} {
		_, err := repo.CreateSwipe(ctx, actor, 99, true)
		require.NoError(t, err)
	}
	// recipient passed actor 2 and liked actor 3 back
	_, _ = repo.CreateSwipe(ctx, 99, 2, false)
	_, _ = repo.CreateSwipe(ctx, 99, 3, true)
	// a pass on the recipient is never counted
	_, _ = repo.CreateSwipe(ctx, 4, 99, false)

	swipes, next, err := repo.GetLikers(ctx, 99, nil, 10)
	assert.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, swipes, 1)
	assert.Equal(t, uint64(1), swipes[0].ActorID)

	count, err := repo.CountLikers(ctx, 99)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetLikersPagination(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	for actor := uint64(1); actor <= 5; actor++ {
		_, err := repo.CreateSwipe(ctx, actor, 99, true)
		require.NoError(t, err)
	}

	var seen []uint64
	var token *string
	for page := 0; page < 5; page++ {
		swipes, next, err := repo.GetLikers(ctx, 99, token, 2)
		require.NoError(t, err)
		for _, s := range swipes {
			seen = append(seen, s.ActorID)
		}
		if next == nil {
			break
		}
		token = next
	}
	assert.ElementsMatch(t, []uint64{1, 2, 3, 4, 5}, seen)
	assert.Len(t, seen, 5, "no actor repeated across pages")

	bad := "%%%"
	_, _, err := repo.GetLikers(ctx, 99, &bad, 2)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCreateMatchIfAbsent(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	m, created, err := repo.CreateMatchIfAbsent(ctx, 7, 3)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint64(3), m.User1ID)
	assert.Equal(t, uint64(7), m.User2ID)
	assert.Len(t, m.ID, 36)

	again, created, err := repo.CreateMatchIfAbsent(ctx, 3, 7)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m.ID, again.ID)

	found, err := repo.FindMatch(ctx, 7, 3)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, m.ID, found.ID)

	none, err := repo.FindMatch(ctx, 1, 2)
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.GetMatchByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateMatchIfAbsent_Concurrent(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		creates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, created, err := repo.CreateMatchIfAbsent(ctx, 1, 2)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[m.ID] = true
			if created {
				creates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
	assert.Len(t, ids, 1)

	var count int64
	dbase.Model(&db.Match{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestListMatchesPagination(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	for other := uint64(2); other <= 6; other++ {
		_, _, err := repo.CreateMatchIfAbsent(ctx, 1, other)
		require.NoError(t, err)
	}
	_, _, _ = repo.CreateMatchIfAbsent(ctx, 8, 9)

	first, next, err := repo.ListMatches(ctx, 1, nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, next)

	rest, next, err := repo.ListMatches(ctx, 1, next, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Nil(t, next)

	seen := map[string]bool{}
	for _, m := range append(first, rest...) {
		assert.True(t, m.Includes(1))
		seen[m.ID] = true
	}
	assert.Len(t, seen, 5)
}

func TestCreateMessageAndCounters(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewSwipeRepository(dbase)

	m, _, err := repo.CreateMatchIfAbsent(ctx, 1, 2)
	require.NoError(t, err)

	msg, err := repo.CreateMessage(ctx, m.ID, 1, "hi")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	_, err = repo.CreateMessage(ctx, m.ID, 2, "hello")
	require.NoError(t, err)

	stored, err := repo.GetMatchByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.MessageCount)

	n, err := repo.IncrementMessageCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.IncrementMessageCount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGetProfileAndPreferences(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewProfileRepository(dbase)

	now := time.Now().UTC()
	addUser(t, dbase, 1, "male", 30, now)

	p, err := repo.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.ID)
	assert.Equal(t, []string{"music"}, p.Interests)
	assert.Empty(t, p.Preferences.Genders)

	prefs := recommend.Preferences{AgeMin: 25, AgeMax: 35, MaxDistanceKm: 40, Genders: []string{"female"}}
	require.NoError(t, repo.UpsertPreferences(ctx, 1, prefs))
	prefs.AgeMax = 33
	require.NoError(t, repo.UpsertPreferences(ctx, 1, prefs))

	p, err = repo.GetProfile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 33, p.Preferences.AgeMax)
	assert.Equal(t, []string{"female"}, p.Preferences.Genders)

	_, err = repo.GetProfile(ctx, 404)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	ok, err := repo.Exists(ctx, 1)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestGetCandidatePool(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewProfileRepository(dbase)
	swipes := repository.NewSwipeRepository(dbase)

	now := time.Now().UTC()
	addUser(t, dbase, 1, "male", 30, now)
	addUser(t, dbase, 2, "female", 29, now.Add(-time.Hour))
	addUser(t, dbase, 3, "female", 31, now.Add(-2*time.Hour))
	addUser(t, dbase, 4, "female", 45, now)                   // outside age range
	addUser(t, dbase, 5, "male", 30, now)                     // wrong gender
	addUser(t, dbase, 6, "female", 30, now)                   // already swiped
	addUser(t, dbase, 7, "female", 30, now)                   // blocked viewer
	addUser(t, dbase, 8, "female", 30, now.Add(-time.Minute)) // passed on the viewer, still shown

	_, _ = swipes.CreateSwipe(ctx, 1, 6, false)
	_, _ = swipes.CreateSwipe(ctx, 8, 1, false)
	require.NoError(t, dbase.Create(&db.Block{BlockerID: 7, BlockedID: 1}).Error)
	require.NoError(t, dbase.Model(&db.User{}).Where("id = ?", 3).Update("active", false).Error)

	pool, err := repo.GetCandidatePool(ctx, 1, repository.PoolFilter{
		Genders: []string{"female"},
		AgeMin:  25,
		AgeMax:  35,
		Limit:   10,
	})
	require.NoError(t, err)

	ids := make([]uint64, len(pool))
	for i, p := range pool {
		ids[i] = p.ID
	}
	assert.Equal(t, []uint64{8, 2}, ids, "most recently active first")

	all, err := repo.GetCandidatePool(ctx, 1, repository.PoolFilter{Genders: []string{recommend.GenderAny}})
	require.NoError(t, err)
	assert.Len(t, all, 4) // 2, 4, 5, 8
}

func TestImpressionsAndSwipeCounters(t *testing.T) {
	ctx := context.Background()
	dbase := setupTestDB(t)
	repo := repository.NewProfileRepository(dbase)

	now := time.Now().UTC()
	addUser(t, dbase, 1, "male", 30, now)
	addUser(t, dbase, 2, "female", 30, now)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordImpressions(ctx, []uint64{1, 2}))
	}
	require.NoError(t, repo.RecordImpressions(ctx, []uint64{2}))
	require.NoError(t, repo.RecordImpressions(ctx, nil))

	n, err := repo.DecayImpressions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	p1, _ := repo.GetProfile(ctx, 1)
	p2, _ := repo.GetProfile(ctx, 2)
	assert.Equal(t, int64(3), p1.Signals.Impressions) // 5 - 5/2
	assert.Equal(t, int64(3), p2.Signals.Impressions) // 6 - 6/2

	require.NoError(t, repo.RecordSwipe(ctx, 1, true))
	require.NoError(t, repo.RecordSwipe(ctx, 1, false))
	require.NoError(t, repo.RecordSwipe(ctx, 1, true))
	require.NoError(t, repo.RecordSwipe(ctx, 1, true))
	p1, _ = repo.GetProfile(ctx, 1)
	assert.InDelta(t, 0.75, p1.Signals.LikeRate, 1e-9)
}
