package matchmaking

import (
	"context"
	"strconv"

	"google.golang.org/grpc"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	svcErr "github.com/oggyb/muzz-matchmaker/internal/errors"
	pb "github.com/oggyb/muzz-matchmaker/internal/proto/matchmaking"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
	"github.com/oggyb/muzz-matchmaker/internal/service/feed"
	"github.com/oggyb/muzz-matchmaker/internal/service/swipe"
)

// Service implements the Matchmaking gRPC API.
// It parses wire ids, delegates to the feed and swipe services and maps
// their typed errors onto gRPC status codes.
type Service struct {
	appCtx *app.AppContext
	feeds  *feed.Service
	swipes *swipe.Service

	pb.UnimplementedMatchmakingServiceServer
}

// NewMatchmakingService creates the gRPC service with dependencies from AppContext.
func NewMatchmakingService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx: appCtx,
		feeds:  feed.NewService(appCtx),
		swipes: swipe.NewService(appCtx),
	}
}

// GetFeed returns the three part feed for a user.
//
// Example:
//
//	svc.GetFeed(ctx, &pb.GetFeedRequest{UserId: "42", Limit: 20})
func (s *Service) GetFeed(ctx context.Context, req *pb.GetFeedRequest) (*pb.GetFeedResponse, error) {
	s.appCtx.Logger.Debug("GetFeed called", "user", req.GetUserId(), "limit", req.Limit, "mode", req.Mode)

	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	freq := feed.Request{UserID: userID, Limit: int(req.Limit), Mode: recommend.Mode(req.Mode)}
	if req.Location != nil {
		freq.Location = &recommend.GeoPoint{Lat: req.Location.Lat, Lon: req.Location.Lon}
	}
	if p := req.Preferences; p != nil {
		freq.Preferences = &recommend.Preferences{
			AgeMin:        int(p.AgeMin),
			AgeMax:        int(p.AgeMax),
			MaxDistanceKm: p.MaxDistanceKm,
			Genders:       p.Genders,
		}
	}

	res, err := s.feeds.GetFeed(ctx, freq)
	if err != nil {
		s.appCtx.Logger.Error("GetFeed failed", "user", userID, "err", err)
		return nil, s.fail(ctx, err)
	}

	resp := &pb.GetFeedResponse{
		MainFeed:              toCandidates(res.Feed.MainFeed),
		ExplorationCandidates: toCandidates(res.Feed.ExplorationCandidates),
		Mode:                  string(res.Feed.Mode),
		Cached:                res.Cached,
	}
	if mc := res.Feed.MostCompatible; mc != nil {
		resp.MostCompatible = toCandidate(*mc)
	}
	return resp, nil
}

// Swipe records a like or pass.
//
// Behavior:
//   - Quota denials come back as ResourceExhausted with x-ratelimit-* trailers.
//   - Repeats are accepted and report the stored outcome with recorded=false.
//
// Example:
//
//	svc.Swipe(ctx, &pb.SwipeRequest{UserId: "1", TargetUserId: "2", Action: "like"})
func (s *Service) Swipe(ctx context.Context, req *pb.SwipeRequest) (*pb.SwipeResponse, error) {
	s.appCtx.Logger.Debug("Swipe called", "user", req.GetUserId(), "target", req.GetTargetUserId(), "action", req.Action)

	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}
	targetID, err := parseID("target_user_id", req.GetTargetUserId())
	if err != nil {
		return nil, err
	}

	res, err := s.swipes.Swipe(ctx, swipe.Request{UserID: userID, TargetID: targetID, Action: swipe.Action(req.Action)})
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	resp := &pb.SwipeResponse{IsMatch: res.IsMatch, Recorded: res.Recorded}
	if res.Match != nil {
		resp.MatchId = res.Match.ID
	}
	return resp, nil
}

// SwipeBatch applies several swipes in order.
func (s *Service) SwipeBatch(ctx context.Context, req *pb.SwipeBatchRequest) (*pb.SwipeBatchResponse, error) {
	s.appCtx.Logger.Debug("SwipeBatch called", "user", req.GetUserId(), "items", len(req.Items))

	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	items := make([]swipe.Item, len(req.Items))
	for i, it := range req.Items {
		if it == nil {
			return nil, svcErr.InvalidArgument("items must not contain nulls")
		}
		// an unparsable id becomes 0 and fails validation as that item
		targetID, _ := strconv.ParseUint(it.TargetUserId, 10, 64)
		items[i] = swipe.Item{TargetID: targetID, Action: swipe.Action(it.Action)}
	}

	res, err := s.swipes.SwipeBatch(ctx, userID, items)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	resp := &pb.SwipeBatchResponse{
		Processed: int32(res.Processed),
		Likes:     int32(res.Likes),
		Passes:    int32(res.Passes),
		MatchIds:  make([]string, 0, len(res.Matches)),
		Failed:    make([]*pb.ItemError, 0, len(res.Failed)),
	}
	for _, m := range res.Matches {
		resp.MatchIds = append(resp.MatchIds, m.ID)
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, &pb.ItemError{
			Index:        int32(f.Index),
			TargetUserId: req.Items[f.Index].TargetUserId,
			Kind:         f.Kind,
			Message:      f.Message,
		})
	}
	return resp, nil
}

// SendMessage posts into a match the sender belongs to.
func (s *Service) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	s.appCtx.Logger.Debug("SendMessage called", "sender", req.GetSenderUserId(), "match", req.MatchId)

	senderID, err := parseID("sender_user_id", req.GetSenderUserId())
	if err != nil {
		return nil, err
	}

	res, err := s.swipes.SendMessage(ctx, swipe.MessageRequest{SenderID: senderID, MatchID: req.MatchId, Body: req.Body})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.SendMessageResponse{
		MessageId:     strconv.FormatUint(res.MessageID, 10),
		SentCount:     res.SentCount,
		UnixTimestamp: uint64(res.SentAt.UnixMilli()),
	}, nil
}

// CountLikedYou returns how many users are waiting on the recipient.
//
// Example:
//
//	svc.CountLikedYou(ctx, &pb.CountLikedYouRequest{RecipientUserId: "42"})
func (s *Service) CountLikedYou(ctx context.Context, req *pb.CountLikedYouRequest) (*pb.CountLikedYouResponse, error) {
	s.appCtx.Logger.Debug("CountLikedYou called", "recipient", req.GetRecipientUserId())

	recipientID, err := parseID("recipient_user_id", req.GetRecipientUserId())
	if err != nil {
		return nil, err
	}
	n, err := s.swipes.CountLikedYou(ctx, recipientID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.CountLikedYouResponse{Count: uint64(n)}, nil
}

// ListLikedYou pages through the users who liked the recipient and have not
// been answered yet.
//
// Example:
//
//	svc.ListLikedYou(ctx, &pb.ListLikedYouRequest{RecipientUserId: "42"})
func (s *Service) ListLikedYou(ctx context.Context, req *pb.ListLikedYouRequest) (*pb.ListLikedYouResponse, error) {
	s.appCtx.Logger.Debug("ListLikedYou called", "recipient", req.GetRecipientUserId(), "token", req.GetPaginationToken())

	recipientID, err := parseID("recipient_user_id", req.GetRecipientUserId())
	if err != nil {
		return nil, err
	}

	likers, next, err := s.swipes.ListLikedYou(ctx, recipientID, req.PaginationToken, int(req.Limit))
	if err != nil {
		s.appCtx.Logger.Error("ListLikedYou failed", "err", err)
		return nil, s.fail(ctx, err)
	}

	resp := &pb.ListLikedYouResponse{Likers: make([]*pb.Liker, 0, len(likers)), NextPaginationToken: next}
	for _, l := range likers {
		resp.Likers = append(resp.Likers, &pb.Liker{
			ActorId:       strconv.FormatUint(l.ActorID, 10),
			UnixTimestamp: uint64(l.LikedAt.UnixMilli()),
		})
	}

	s.appCtx.Logger.Debug("ListLikedYou result", "liker_count", len(resp.Likers), "next_token", resp.GetNextPaginationToken())
	return resp, nil
}

// ListMatches pages through the user's matches, newest first.
func (s *Service) ListMatches(ctx context.Context, req *pb.ListMatchesRequest) (*pb.ListMatchesResponse, error) {
	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}

	matches, next, err := s.swipes.ListMatches(ctx, userID, req.PaginationToken, int(req.Limit))
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	resp := &pb.ListMatchesResponse{Matches: make([]*pb.Match, 0, len(matches)), NextPaginationToken: next}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, &pb.Match{
			MatchId:       m.ID,
			User1Id:       strconv.FormatUint(m.User1ID, 10),
			User2Id:       strconv.FormatUint(m.User2ID, 10),
			UnixTimestamp: uint64(m.CreatedAt.UnixMilli()),
		})
	}
	return resp, nil
}

// GetCuratedMatch returns the partner from the last curation run.
func (s *Service) GetCuratedMatch(ctx context.Context, req *pb.GetCuratedMatchRequest) (*pb.GetCuratedMatchResponse, error) {
	userID, err := parseID("user_id", req.GetUserId())
	if err != nil {
		return nil, err
	}
	m, err := s.feeds.GetCuratedMatch(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return &pb.GetCuratedMatchResponse{
		PartnerUserId: strconv.FormatUint(m.PartnerID, 10),
		Score:         m.Score,
		UnixTimestamp: uint64(m.CuratedAt.UnixMilli()),
	}, nil
}

// fail maps err to a status and attaches quota trailers when relevant.
func (s *Service) fail(ctx context.Context, err error) error {
	if md, ok := svcErr.QuotaTrailer(err); ok {
		if terr := grpc.SetTrailer(ctx, md); terr != nil {
			s.appCtx.Logger.Debug("quota trailer not set", "err", terr)
		}
	}
	return svcErr.Map(err)
}

func parseID(field, v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, svcErr.InvalidArgument(field + " must be a valid uint64")
	}
	return id, nil
}

func toCandidate(c recommend.Candidate) *pb.Candidate {
	return &pb.Candidate{UserId: strconv.FormatUint(c.ID(), 10), Score: c.Score}
}

func toCandidates(cs []recommend.Candidate) []*pb.Candidate {
	out := make([]*pb.Candidate, len(cs))
	for i, c := range cs {
		out[i] = toCandidate(c)
	}
	return out
}
