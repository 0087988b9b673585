package swipe_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/muzz-matchmaker/internal/cache"
	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/events"
	"github.com/oggyb/muzz-matchmaker/internal/lock"
	"github.com/oggyb/muzz-matchmaker/internal/repository"
	"github.com/oggyb/muzz-matchmaker/internal/service/swipe"
	"github.com/oggyb/muzz-matchmaker/internal/testutil"
)

//
// Test helpers
//

// setupService seeds users 1..6 and the minimal swipe graph:
//   - user2 -> user1 like (waiting on user1)
//   - user3 -> user1 like, user1 -> user3 pass
func setupService(t *testing.T, mutate ...func(*config.Config)) (*swipe.Service, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t, mutate...)
	testutil.SeedUsers(t, env.DB, 1, 6)

	seed := []db.Swipe{
		{ActorID: 2, RecipientID: 1, Liked: true},
		{ActorID: 3, RecipientID: 1, Liked: true},
		{ActorID: 1, RecipientID: 3, Liked: false},
	}
	require.NoError(t, env.DB.Create(&seed).Error)

	return swipe.NewService(env.App), env
}

func like(user, target uint64) swipe.Request {
	return swipe.Request{UserID: user, TargetID: target, Action: swipe.ActionLike}
}

func pass(user, target uint64) swipe.Request {
	return swipe.Request{UserID: user, TargetID: target, Action: swipe.ActionPass}
}

func countMatches(t *testing.T, env *testutil.Env) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.DB.Model(&db.Match{}).Count(&n).Error)
	return n
}

// barrierStore holds every reciprocal check until both sides have written
// their like, so both requests race into match creation.
type barrierStore struct {
	*repository.SwipeRepository
	written sync.WaitGroup
}

func (b *barrierStore) CreateSwipe(ctx context.Context, actorID, recipientID uint64, liked bool) (bool, error) {
	defer b.written.Done()
	return b.SwipeRepository.CreateSwipe(ctx, actorID, recipientID, liked)
}

func (b *barrierStore) HasLiked(ctx context.Context, actorID, recipientID uint64) (bool, error) {
	b.written.Wait()
	return b.SwipeRepository.HasLiked(ctx, actorID, recipientID)
}

// flakyStore fails swipe writes while fail is set.
type flakyStore struct {
	*repository.SwipeRepository
	fail bool
}

func (f *flakyStore) CreateSwipe(ctx context.Context, actorID, recipientID uint64, liked bool) (bool, error) {
	if f.fail {
		return false, errors.New("db gone")
	}
	return f.SwipeRepository.CreateSwipe(ctx, actorID, recipientID, liked)
}

//
// Tests
//

func TestSwipe_ReciprocalLikeCreatesMatch(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	env.App.Cache.Set(ctx, cache.FeedKey(1, "a"), []byte("{}"), 0)
	env.App.Cache.Set(ctx, cache.FeedKey(2, "b"), []byte("{}"), 0)

	res, err := svc.Swipe(ctx, like(1, 2))
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	require.True(t, res.IsMatch)
	assert.Equal(t, uint64(1), res.Match.User1ID)
	assert.Equal(t, uint64(2), res.Match.User2ID)

	assert.Equal(t, int64(1), countMatches(t, env))
	assert.False(t, env.Redis.Exists(cache.FeedKey(1, "a")))
	assert.False(t, env.Redis.Exists(cache.FeedKey(2, "b")))

	published := env.Events.On(events.ChannelMatchCreated)
	require.Len(t, published, 1)
	assert.Equal(t, res.Match.ID, published[0].(events.MatchCreated).MatchID)
}

func TestSwipe_OneSidedLikeAndPass(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	res, err := svc.Swipe(ctx, like(4, 5))
	require.NoError(t, err)
	assert.False(t, res.IsMatch)
	assert.Nil(t, res.Match)

	// a pass never matches, even against an earlier like
	res, err = svc.Swipe(ctx, pass(1, 2))
	require.NoError(t, err)
	assert.False(t, res.IsMatch)

	assert.Equal(t, int64(0), countMatches(t, env))
	assert.Empty(t, env.Events.On(events.ChannelMatchCreated))
}

func TestSwipe_RepeatIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	first, err := svc.Swipe(ctx, like(1, 2))
	require.NoError(t, err)
	require.True(t, first.IsMatch)

	again, err := svc.Swipe(ctx, like(1, 2))
	require.NoError(t, err)
	assert.False(t, again.Recorded)
	require.True(t, again.IsMatch)
	assert.Equal(t, first.Match.ID, again.Match.ID)

	// the first decision stands
	res, err := svc.Swipe(ctx, pass(4, 5))
	require.NoError(t, err)
	assert.True(t, res.Recorded)
	res, err = svc.Swipe(ctx, like(4, 5))
	require.NoError(t, err)
	assert.False(t, res.Recorded)

	var s db.Swipe
	require.NoError(t, env.DB.Where("actor_id = ? AND recipient_id = ?", 4, 5).First(&s).Error)
	assert.False(t, s.Liked)

	assert.Equal(t, int64(1), countMatches(t, env))
	assert.Len(t, env.Events.On(events.ChannelMatchCreated), 1)
}

func TestSwipe_ConcurrentMutualLikeCreatesOneMatch(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	const rounds = 20
	testutil.SeedUsers(t, env.DB, 7, 6+2*rounds)

	for round := 0; round < rounds; round++ {
		a, b := uint64(7+2*round), uint64(8+2*round)

		store := &barrierStore{SwipeRepository: repository.NewSwipeRepository(env.DB)}
		store.written.Add(2)
		svc.WithStore(store)

		var (
			wg      sync.WaitGroup
			results [2]*swipe.Result
			errs    [2]error
		)
		for i, req := range []swipe.Request{like(a, b), like(b, a)} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = svc.Swipe(ctx, req)
			}()
		}
		wg.Wait()

		for i := range results {
			require.NoError(t, errs[i], "round %d", round)
			require.True(t, results[i].IsMatch, "round %d", round)
		}
		assert.Equal(t, results[0].Match.ID, results[1].Match.ID, "round %d", round)
		assert.Equal(t, int64(round+1), countMatches(t, env), "round %d", round)
		assert.Len(t, env.Events.On(events.ChannelMatchCreated), round+1, "round %d", round)
	}
}

// lockWatcher records whether the pair lock was still held when the match
// event went out.
type lockWatcher struct {
	env      *testutil.Env
	key      string
	heldSeen []bool
}

func (w *lockWatcher) Publish(_ context.Context, channel string, _ any) error {
	if channel == events.ChannelMatchCreated {
		w.heldSeen = append(w.heldSeen, w.env.Redis.Exists(w.key))
	}
	return nil
}

func TestSwipe_PairLockReleasedBeforeMatchEvent(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	watcher := &lockWatcher{env: env, key: lock.PairKey(1, 2)}
	env.App.Events = events.NewBestEffort(watcher, testutil.Logger())

	res, err := svc.Swipe(ctx, like(1, 2))
	require.NoError(t, err)
	require.True(t, res.IsMatch)

	assert.Equal(t, []bool{false}, watcher.heldSeen)
}

func TestSwipe_BusyLockFallsBackToUniqueIndex(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	require.NoError(t, env.Redis.Set(lock.PairKey(1, 2), "someone-else"))

	res, err := svc.Swipe(ctx, like(1, 2))
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.Equal(t, int64(1), countMatches(t, env))

	// the foreign lock is untouched
	v, err := env.Redis.Get(lock.PairKey(1, 2))
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestSwipe_LikeQuota(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t, func(c *config.Config) {
		c.Limits.Like.Capacity = 2
	})

	_, err := svc.Swipe(ctx, like(6, 1))
	require.NoError(t, err)
	// a repeat does not spend quota
	_, err = svc.Swipe(ctx, like(6, 1))
	require.NoError(t, err)
	_, err = svc.Swipe(ctx, like(6, 2))
	require.NoError(t, err)

	_, err = svc.Swipe(ctx, like(6, 3))
	require.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
	remaining, reset, ok := apperrors.Quota(err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), remaining)
	assert.Positive(t, reset)

	var n int64
	env.DB.Model(&db.Swipe{}).Where("actor_id = ? AND recipient_id = ?", 6, 3).Count(&n)
	assert.Zero(t, n, "denied swipe is not persisted")

	// passes only draw on the swipe bucket
	_, err = svc.Swipe(ctx, pass(6, 3))
	assert.NoError(t, err)
}

func TestSwipe_SwipeQuota(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t, func(c *config.Config) {
		c.Limits.Swipe.Capacity = 2
		c.Limits.Swipe.Refill = 0.0001
	})

	_, err := svc.Swipe(ctx, pass(6, 1))
	require.NoError(t, err)
	_, err = svc.Swipe(ctx, pass(6, 2))
	require.NoError(t, err)
	_, err = svc.Swipe(ctx, pass(6, 3))
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)
}

func TestSwipe_FailedWriteRefundsQuota(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t, func(c *config.Config) {
		c.Limits.Swipe.Capacity = 1
		c.Limits.Swipe.Refill = 0.0001
	})
	store := &flakyStore{SwipeRepository: repository.NewSwipeRepository(env.DB), fail: true}
	svc.WithStore(store)

	_, err := svc.Swipe(ctx, like(6, 1))
	require.ErrorIs(t, err, apperrors.ErrTransient)

	store.fail = false
	_, err = svc.Swipe(ctx, like(6, 1))
	assert.NoError(t, err, "quota was returned after the failed write")
}

func TestSwipe_ValidationAndNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	_, err := svc.Swipe(ctx, like(1, 1))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Swipe(ctx, swipe.Request{UserID: 1, TargetID: 2, Action: "superlike"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Swipe(ctx, like(0, 2))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Swipe(ctx, like(1, 404))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSwipeBatch(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	res, err := svc.SwipeBatch(ctx, 1, []swipe.Item{
		{TargetID: 2, Action: swipe.ActionLike}, // matches
		{TargetID: 404, Action: swipe.ActionLike},
		{TargetID: 4, Action: swipe.ActionPass},
		{TargetID: 1, Action: swipe.ActionLike}, // self
		{TargetID: 5, Action: swipe.ActionLike},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.Likes)
	assert.Equal(t, 1, res.Passes)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, uint64(2), res.Matches[0].User2ID)

	require.Len(t, res.Failed, 2)
	assert.Equal(t, 1, res.Failed[0].Index)
	assert.Equal(t, "not_found", res.Failed[0].Kind)
	assert.Equal(t, 3, res.Failed[1].Index)
	assert.Equal(t, "validation", res.Failed[1].Kind)

	assert.Equal(t, int64(1), countMatches(t, env))
}

func TestSwipeBatch_RejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	_, err := svc.SwipeBatch(ctx, 1, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	items := make([]swipe.Item, 51)
	for i := range items {
		items[i] = swipe.Item{TargetID: 2, Action: swipe.ActionLike}
	}
	_, err = svc.SwipeBatch(ctx, 1, items)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, int64(0), countMatches(t, env), "nothing from a rejected batch is applied")
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t, func(c *config.Config) {
		c.Limits.Message.Capacity = 2
		c.Limits.Message.Refill = 0.0001
	})

	res, err := svc.Swipe(ctx, like(1, 2))
	require.NoError(t, err)
	matchID := res.Match.ID

	sent, err := svc.SendMessage(ctx, swipe.MessageRequest{SenderID: 1, MatchID: matchID, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent.SentCount)
	assert.Len(t, env.Events.On(events.ChannelMessageSent), 1)

	_, err = svc.SendMessage(ctx, swipe.MessageRequest{SenderID: 3, MatchID: matchID, Body: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "outsiders cannot post into a match")

	_, err = svc.SendMessage(ctx, swipe.MessageRequest{SenderID: 1, MatchID: "not-a-uuid", Body: "hi"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.SendMessage(ctx, swipe.MessageRequest{SenderID: 1, MatchID: matchID})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	sent, err = svc.SendMessage(ctx, swipe.MessageRequest{SenderID: 1, MatchID: matchID, Body: "still there?"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sent.SentCount)

	_, err = svc.SendMessage(ctx, swipe.MessageRequest{SenderID: 1, MatchID: matchID, Body: "hello?"})
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	var m db.Match
	require.NoError(t, env.DB.First(&m, "id = ?", matchID).Error)
	assert.Equal(t, int64(2), m.MessageCount)
}

func TestCountLikedYou_Cache(t *testing.T) {
	ctx := context.Background()
	svc, env := setupService(t)

	// only user2 counts; user1 already passed on user3
	n, err := svc.CountLikedYou(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, env.Redis.Exists(cache.KeyForLikeCount(1)))

	// second call served from cache
	n, err = svc.CountLikedYou(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// a new like drops the cached count
	_, err = svc.Swipe(ctx, like(4, 1))
	require.NoError(t, err)
	assert.False(t, env.Redis.Exists(cache.KeyForLikeCount(1)))

	n, err = svc.CountLikedYou(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestListLikedYouAndMatches(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	likers, next, err := svc.ListLikedYou(ctx, 1, nil, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, likers, 1)
	assert.Equal(t, uint64(2), likers[0].ActorID)

	for _, other := range []uint64{4, 5, 6} {
		_, err := svc.Swipe(ctx, like(other, 1))
		require.NoError(t, err)
		_, err = svc.Swipe(ctx, like(1, other))
		require.NoError(t, err)
	}

	page, next, err := svc.ListMatches(ctx, 1, nil, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	require.NotNil(t, next)

	rest, next, err := svc.ListMatches(ctx, 1, next, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Nil(t, next)

	bad := "!!"
	_, _, err = svc.ListMatches(ctx, 1, &bad, 2)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
