package matchmaking

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "matchmaking.v1.MatchmakingService"

const (
	MethodGetFeed         = "/" + ServiceName + "/GetFeed"
	MethodSwipe           = "/" + ServiceName + "/Swipe"
	MethodSwipeBatch      = "/" + ServiceName + "/SwipeBatch"
	MethodSendMessage     = "/" + ServiceName + "/SendMessage"
	MethodCountLikedYou   = "/" + ServiceName + "/CountLikedYou"
	MethodListLikedYou    = "/" + ServiceName + "/ListLikedYou"
	MethodListMatches     = "/" + ServiceName + "/ListMatches"
	MethodGetCuratedMatch = "/" + ServiceName + "/GetCuratedMatch"
)

// MatchmakingServiceServer is the server API.
type MatchmakingServiceServer interface {
	GetFeed(context.Context, *GetFeedRequest) (*GetFeedResponse, error)
	Swipe(context.Context, *SwipeRequest) (*SwipeResponse, error)
	SwipeBatch(context.Context, *SwipeBatchRequest) (*SwipeBatchResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	CountLikedYou(context.Context, *CountLikedYouRequest) (*CountLikedYouResponse, error)
	ListLikedYou(context.Context, *ListLikedYouRequest) (*ListLikedYouResponse, error)
	ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error)
	GetCuratedMatch(context.Context, *GetCuratedMatchRequest) (*GetCuratedMatchResponse, error)
}

// UnimplementedMatchmakingServiceServer must be embedded for forward compatibility.
type UnimplementedMatchmakingServiceServer struct{}

func (UnimplementedMatchmakingServiceServer) GetFeed(context.Context, *GetFeedRequest) (*GetFeedResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetFeed not implemented")
}
func (UnimplementedMatchmakingServiceServer) Swipe(context.Context, *SwipeRequest) (*SwipeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Swipe not implemented")
}
func (UnimplementedMatchmakingServiceServer) SwipeBatch(context.Context, *SwipeBatchRequest) (*SwipeBatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SwipeBatch not implemented")
}
func (UnimplementedMatchmakingServiceServer) SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SendMessage not implemented")
}
func (UnimplementedMatchmakingServiceServer) CountLikedYou(context.Context, *CountLikedYouRequest) (*CountLikedYouResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CountLikedYou not implemented")
}
func (UnimplementedMatchmakingServiceServer) ListLikedYou(context.Context, *ListLikedYouRequest) (*ListLikedYouResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListLikedYou not implemented")
}
func (UnimplementedMatchmakingServiceServer) ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListMatches not implemented")
}
func (UnimplementedMatchmakingServiceServer) GetCuratedMatch(context.Context, *GetCuratedMatchRequest) (*GetCuratedMatchResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetCuratedMatch not implemented")
}

func RegisterMatchmakingServiceServer(s grpc.ServiceRegistrar, srv MatchmakingServiceServer) {
	s.RegisterService(&MatchmakingService_ServiceDesc, srv)
}

// unary adapts one typed server method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](
	fullMethod string,
	call func(MatchmakingServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MatchmakingServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MatchmakingServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var MatchmakingService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchmakingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFeed", Handler: unary(MethodGetFeed, MatchmakingServiceServer.GetFeed)},
		{MethodName: "Swipe", Handler: unary(MethodSwipe, MatchmakingServiceServer.Swipe)},
		{MethodName: "SwipeBatch", Handler: unary(MethodSwipeBatch, MatchmakingServiceServer.SwipeBatch)},
		{MethodName: "SendMessage", Handler: unary(MethodSendMessage, MatchmakingServiceServer.SendMessage)},
		{MethodName: "CountLikedYou", Handler: unary(MethodCountLikedYou, MatchmakingServiceServer.CountLikedYou)},
		{MethodName: "ListLikedYou", Handler: unary(MethodListLikedYou, MatchmakingServiceServer.ListLikedYou)},
		{MethodName: "ListMatches", Handler: unary(MethodListMatches, MatchmakingServiceServer.ListMatches)},
		{MethodName: "GetCuratedMatch", Handler: unary(MethodGetCuratedMatch, MatchmakingServiceServer.GetCuratedMatch)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "matchmaking/v1/matchmaking.proto",
}

// MatchmakingServiceClient is the client API. Every call uses the JSON codec.
type MatchmakingServiceClient interface {
	GetFeed(ctx context.Context, in *GetFeedRequest, opts ...grpc.CallOption) (*GetFeedResponse, error)
	Swipe(ctx context.Context, in *SwipeRequest, opts ...grpc.CallOption) (*SwipeResponse, error)
	SwipeBatch(ctx context.Context, in *SwipeBatchRequest, opts ...grpc.CallOption) (*SwipeBatchResponse, error)
	SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error)
	CountLikedYou(ctx context.Context, in *CountLikedYouRequest, opts ...grpc.CallOption) (*CountLikedYouResponse, error)
	ListLikedYou(ctx context.Context, in *ListLikedYouRequest, opts ...grpc.CallOption) (*ListLikedYouResponse, error)
	ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error)
	GetCuratedMatch(ctx context.Context, in *GetCuratedMatchRequest, opts ...grpc.CallOption) (*GetCuratedMatchResponse, error)
}

type matchmakingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMatchmakingServiceClient(cc grpc.ClientConnInterface) MatchmakingServiceClient {
	return &matchmakingServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *matchmakingServiceClient) GetFeed(ctx context.Context, in *GetFeedRequest, opts ...grpc.CallOption) (*GetFeedResponse, error) {
	return invoke[GetFeedResponse](ctx, c.cc, MethodGetFeed, in, opts)
}

func (c *matchmakingServiceClient) Swipe(ctx context.Context, in *SwipeRequest, opts ...grpc.CallOption) (*SwipeResponse, error) {
	return invoke[SwipeResponse](ctx, c.cc, MethodSwipe, in, opts)
}

func (c *matchmakingServiceClient) SwipeBatch(ctx context.Context, in *SwipeBatchRequest, opts ...grpc.CallOption) (*SwipeBatchResponse, error) {
	return invoke[SwipeBatchResponse](ctx, c.cc, MethodSwipeBatch, in, opts)
}

func (c *matchmakingServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, MethodSendMessage, in, opts)
}

func (c *matchmakingServiceClient) CountLikedYou(ctx context.Context, in *CountLikedYouRequest, opts ...grpc.CallOption) (*CountLikedYouResponse, error) {
	return invoke[CountLikedYouResponse](ctx, c.cc, MethodCountLikedYou, in, opts)
}

func (c *matchmakingServiceClient) ListLikedYou(ctx context.Context, in *ListLikedYouRequest, opts ...grpc.CallOption) (*ListLikedYouResponse, error) {
	return invoke[ListLikedYouResponse](ctx, c.cc, MethodListLikedYou, in, opts)
}

func (c *matchmakingServiceClient) ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error) {
	return invoke[ListMatchesResponse](ctx, c.cc, MethodListMatches, in, opts)
}

func (c *matchmakingServiceClient) GetCuratedMatch(ctx context.Context, in *GetCuratedMatchRequest, opts ...grpc.CallOption) (*GetCuratedMatchResponse, error) {
	return invoke[GetCuratedMatchResponse](ctx, c.cc, MethodGetCuratedMatch, in, opts)
}
