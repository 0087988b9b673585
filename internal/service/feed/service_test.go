package feed_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
	"github.com/oggyb/muzz-matchmaker/internal/service/feed"
	"github.com/oggyb/muzz-matchmaker/internal/testutil"
)

// setupService seeds one male viewer (id 1) and ten female candidates (2..11).
// The viewer already swiped on user 2.
func setupService(t *testing.T) (*feed.Service, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t)

	testutil.SeedUser(t, env.DB, testutil.UserSpec{ID: 1, Gender: "male", Interests: []string{"music", "film"}})
	for id := uint64(2); id <= 11; id++ {
		testutil.SeedUser(t, env.DB, testutil.UserSpec{ID: id, Gender: "female", Age: 25 + int(id)})
	}
	require.NoError(t, env.DB.Create(&db.Swipe{ActorID: 1, RecipientID: 2, Liked: true}).Error)

	return feed.NewService(env.App), env
}

func feedKeys(env *testutil.Env, userID uint64) []string {
	var out []string
	prefix := cache.FeedPrefix(userID)
	for _, k := range env.Redis.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func TestGetFeed_ComposesThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	first, err := svc.GetFeed(ctx, feed.Request{UserID: 1})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, recommend.ModeStandard, first.Feed.Mode)
	assert.Len(t, feedKeys(env, 1), 1)

	second, err := svc.GetFeed(ctx, feed.Request{UserID: 1})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Feed.IDs(), second.Feed.IDs())
}

func TestGetFeed_ExcludesViewerAndSwiped(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	res, err := svc.GetFeed(ctx, feed.Request{UserID: 1, Limit: 20})
	require.NoError(t, err)

	ids := res.Feed.IDs()
	assert.Len(t, ids, 9)
	assert.NotContains(t, ids, uint64(1))
	assert.NotContains(t, ids, uint64(2))

	seen := map[uint64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "candidate %d in two slots", id)
		seen[id] = true
	}
}

func TestGetFeed_RecordsImpressions(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	res, err := svc.GetFeed(ctx, feed.Request{UserID: 1, Limit: 5})
	require.NoError(t, err)
	shown := res.Feed.IDs()
	require.NotEmpty(t, shown)

	var users []db.User
	require.NoError(t, env.DB.Where("id IN ?", shown).Find(&users).Error)
	for _, u := range users {
		assert.Equal(t, int64(1), u.ImpressionCount, "user %d", u.ID)
	}

	// a cache hit does not count again
	_, err = svc.GetFeed(ctx, feed.Request{UserID: 1, Limit: 5})
	require.NoError(t, err)
	var u db.User
	require.NoError(t, env.DB.First(&u, shown[0]).Error)
	assert.Equal(t, int64(1), u.ImpressionCount)
}

func TestGetFeed_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	_, err := svc.GetFeed(ctx, feed.Request{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetFeed(ctx, feed.Request{UserID: 1, Limit: 51})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetFeed(ctx, feed.Request{UserID: 1, Limit: -1})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetFeed(ctx, feed.Request{UserID: 1, Mode: "random"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.GetFeed(ctx, feed.Request{UserID: 404})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetFeed_PreferenceOverrideUsesOwnCacheEntry(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	_, err := svc.GetFeed(ctx, feed.Request{UserID: 1})
	require.NoError(t, err)

	res, err := svc.GetFeed(ctx, feed.Request{
		UserID:      1,
		Preferences: &recommend.Preferences{AgeMin: 30, AgeMax: 33},
	})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, feedKeys(env, 1), 2)

	for _, c := range append(res.Feed.MainFeed, res.Feed.ExplorationCandidates...) {
		assert.GreaterOrEqual(t, c.Profile.Age, 30)
		assert.LessOrEqual(t, c.Profile.Age, 33)
	}
}

func TestInvalidateUser(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	_, err := svc.GetFeed(ctx, feed.Request{UserID: 1})
	require.NoError(t, err)
	_, err = svc.GetFeed(ctx, feed.Request{UserID: 1, Limit: 3})
	require.NoError(t, err)
	require.Len(t, feedKeys(env, 1), 2)
	require.True(t, env.Redis.Exists(cache.ProfileKey(1)))

	svc.InvalidateUser(ctx, 1)
	assert.Empty(t, feedKeys(env, 1))
	assert.False(t, env.Redis.Exists(cache.ProfileKey(1)))

	res, err := svc.GetFeed(ctx, feed.Request{UserID: 1})
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestGetFeed_CacheOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	env.Redis.Close()

	res, err := svc.GetFeed(ctx, feed.Request{UserID: 1})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.NotEmpty(t, res.Feed.IDs())
}

func TestGetFeed_QualityMode(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	res, err := svc.GetFeed(ctx, feed.Request{UserID: 1, Mode: recommend.ModeQuality})
	require.NoError(t, err)
	assert.Equal(t, recommend.ModeQuality, res.Feed.Mode)
	assert.LessOrEqual(t, len(res.Feed.IDs()), 3)
	assert.Empty(t, res.Feed.ExplorationCandidates)
}

func TestGetCuratedMatch(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	_, err := svc.GetCuratedMatch(ctx, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	want := feed.CuratedMatch{UserID: 1, PartnerID: 5, Score: 0.8, CuratedAt: time.Unix(1700000000, 0).UTC()}
	env.App.Cache.SetJSON(ctx, cache.CuratedKey(1), want, time.Hour)

	got, err := svc.GetCuratedMatch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSeed(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	assert.Equal(t, feed.Seed(1, at), feed.Seed(1, at.Add(50*time.Minute)))
	assert.NotEqual(t, feed.Seed(1, at), feed.Seed(1, at.Add(time.Hour)))
	assert.NotEqual(t, feed.Seed(1, at), feed.Seed(2, at))
}
