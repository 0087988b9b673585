package matchmaking_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/oggyb/muzz-matchmaker/internal/config"
	"github.com/oggyb/muzz-matchmaker/internal/db"
	pb "github.com/oggyb/muzz-matchmaker/internal/proto/matchmaking"
	"github.com/oggyb/muzz-matchmaker/internal/server"
	"github.com/oggyb/muzz-matchmaker/internal/service/matchmaking"
	"github.com/oggyb/muzz-matchmaker/internal/testutil"
)

//
// Test helpers
//

// setupClient serves the Matchmaking service over an in-memory listener.
//
// Dataset:
//   - Users 1..6, odd ids male, even ids female
//   - user2 -> user1 like
//   - user3 -> user1 like, user1 -> user3 pass
func setupClient(t *testing.T, mutate ...func(*config.Config)) (pb.MatchmakingServiceClient, *testutil.Env) {
	t.Helper()
	env := testutil.NewEnv(t, mutate...)
	testutil.SeedUsers(t, env.DB, 1, 6)
	require.NoError(t, env.DB.Create(&[]db.Swipe{
		{ActorID: 2, RecipientID: 1, Liked: true},
		{ActorID: 3, RecipientID: 1, Liked: true},
		{ActorID: 1, RecipientID: 3, Liked: false},
	}).Error)

	lis := bufconn.Listen(1 << 20)
	srv := server.NewGRPCServer(env.App.Config, env.App.Logger, matchmaking.NewRegistrar(env.App))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return pb.NewMatchmakingServiceClient(conn), env
}

//
// Tests
//

func TestGetFeed(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	resp, err := client.GetFeed(ctx, &pb.GetFeedRequest{UserId: "1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "standard", resp.Mode)
	assert.False(t, resp.Cached)

	seen := map[string]bool{}
	all := append([]*pb.Candidate{}, resp.MainFeed...)
	all = append(all, resp.ExplorationCandidates...)
	if resp.MostCompatible != nil {
		all = append(all, resp.MostCompatible)
	}
	for _, c := range all {
		assert.NotEqual(t, "1", c.UserId)
		assert.NotEqual(t, "3", c.UserId, "already swiped")
		assert.False(t, seen[c.UserId])
		seen[c.UserId] = true
	}

	again, err := client.GetFeed(ctx, &pb.GetFeedRequest{UserId: "1", Limit: 10})
	require.NoError(t, err)
	assert.True(t, again.Cached)
}

func TestGetFeed_InvalidArgs(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	_, err := client.GetFeed(ctx, &pb.GetFeedRequest{UserId: "abc"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetFeed(ctx, &pb.GetFeedRequest{UserId: "1", Limit: 500})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetFeed(ctx, &pb.GetFeedRequest{UserId: "999"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestSwipe_MatchAndMessages(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	resp, err := client.Swipe(ctx, &pb.SwipeRequest{UserId: "1", TargetUserId: "2", Action: "like"})
	require.NoError(t, err)
	assert.True(t, resp.IsMatch)
	assert.True(t, resp.Recorded)
	require.NotEmpty(t, resp.MatchId)

	sent, err := client.SendMessage(ctx, &pb.SendMessageRequest{SenderUserId: "2", MatchId: resp.MatchId, Body: "hey"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), sent.SentCount)
	assert.NotEmpty(t, sent.MessageId)

	_, err = client.SendMessage(ctx, &pb.SendMessageRequest{SenderUserId: "4", MatchId: resp.MatchId, Body: "hey"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	matches, err := client.ListMatches(ctx, &pb.ListMatchesRequest{UserId: "2"})
	require.NoError(t, err)
	require.Len(t, matches.Matches, 1)
	assert.Equal(t, resp.MatchId, matches.Matches[0].MatchId)
	assert.Equal(t, "1", matches.Matches[0].User1Id)
	assert.Nil(t, matches.NextPaginationToken)
}

func TestSwipe_QuotaTrailer(t *testing.T) {
	client, _ := setupClient(t, func(c *config.Config) {
		c.Limits.Like.Capacity = 1
	})
	ctx := context.Background()

	_, err := client.Swipe(ctx, &pb.SwipeRequest{UserId: "4", TargetUserId: "5", Action: "like"})
	require.NoError(t, err)

	var trailer metadata.MD
	_, err = client.Swipe(ctx, &pb.SwipeRequest{UserId: "4", TargetUserId: "1", Action: "like"}, grpc.Trailer(&trailer))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, []string{"0"}, trailer.Get("x-ratelimit-remaining"))
	assert.NotEmpty(t, trailer.Get("x-ratelimit-reset-ms"))
}

func TestSwipe_InvalidArgs(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	_, err := client.Swipe(ctx, &pb.SwipeRequest{UserId: "1", TargetUserId: "1", Action: "like"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Swipe(ctx, &pb.SwipeRequest{UserId: "1", TargetUserId: "x", Action: "like"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Swipe(ctx, &pb.SwipeRequest{UserId: "1", TargetUserId: "2", Action: "maybe"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSwipeBatch(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	resp, err := client.SwipeBatch(ctx, &pb.SwipeBatchRequest{
		UserId: "1",
		Items: []*pb.SwipeItem{
			{TargetUserId: "2", Action: "like"},
			{TargetUserId: "nope", Action: "like"},
			{TargetUserId: "4", Action: "pass"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), resp.Processed)
	assert.Len(t, resp.MatchIds, 1)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, int32(1), resp.Failed[0].Index)
	assert.Equal(t, "nope", resp.Failed[0].TargetUserId)
	assert.Equal(t, "validation", resp.Failed[0].Kind)

	_, err = client.SwipeBatch(ctx, &pb.SwipeBatchRequest{UserId: "1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCountAndListLikedYou(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	count, err := client.CountLikedYou(ctx, &pb.CountLikedYouRequest{RecipientUserId: "1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count.Count)

	list, err := client.ListLikedYou(ctx, &pb.ListLikedYouRequest{RecipientUserId: "1"})
	require.NoError(t, err)
	require.Len(t, list.Likers, 1)
	assert.Equal(t, "2", list.Likers[0].ActorId)
	assert.Positive(t, list.Likers[0].UnixTimestamp)

	bad := "%%%"
	_, err = client.ListLikedYou(ctx, &pb.ListLikedYouRequest{RecipientUserId: "1", PaginationToken: &bad})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CountLikedYou(ctx, &pb.CountLikedYouRequest{RecipientUserId: ""})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetCuratedMatch_NotFound(t *testing.T) {
	client, _ := setupClient(t)

	_, err := client.GetCuratedMatch(context.Background(), &pb.GetCuratedMatchRequest{UserId: "1"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServerRateLimit(t *testing.T) {
	client, _ := setupClient(t, func(c *config.Config) {
		c.GRPC.RateLimit = 0.001
		c.GRPC.Burst = 1
	})
	ctx := context.Background()

	_, err := client.CountLikedYou(ctx, &pb.CountLikedYouRequest{RecipientUserId: "1"})
	require.NoError(t, err)
	_, err = client.CountLikedYou(ctx, &pb.CountLikedYouRequest{RecipientUserId: "1"})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
