package matchmaking

// User ids travel as decimal strings.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Preferences struct {
	AgeMin        int32    `json:"age_min,omitempty"`
	AgeMax        int32    `json:"age_max,omitempty"`
	MaxDistanceKm float64  `json:"max_distance_km,omitempty"`
	Genders       []string `json:"genders,omitempty"`
}

type GetFeedRequest struct {
	UserId      string       `json:"user_id"`
	Limit       int32        `json:"limit,omitempty"`
	Mode        string       `json:"mode,omitempty"`
	Location    *GeoPoint    `json:"location,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

func (x *GetFeedRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type Candidate struct {
	UserId string  `json:"user_id"`
	Score  float64 `json:"score"`
}

type GetFeedResponse struct {
	MostCompatible        *Candidate   `json:"most_compatible,omitempty"`
	MainFeed              []*Candidate `json:"main_feed"`
	ExplorationCandidates []*Candidate `json:"exploration_candidates"`
	Mode                  string       `json:"mode"`
	Cached                bool         `json:"cached"`
}

type SwipeRequest struct {
	UserId       string `json:"user_id"`
	TargetUserId string `json:"target_user_id"`
	Action       string `json:"action"`
}

func (x *SwipeRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

func (x *SwipeRequest) GetTargetUserId() string {
	if x != nil {
		return x.TargetUserId
	}
	return ""
}

type SwipeResponse struct {
	IsMatch  bool   `json:"is_match"`
	MatchId  string `json:"match_id,omitempty"`
	Recorded bool   `json:"recorded"`
}

type SwipeItem struct {
	TargetUserId string `json:"target_user_id"`
	Action       string `json:"action"`
}

type SwipeBatchRequest struct {
	UserId string       `json:"user_id"`
	Items  []*SwipeItem `json:"items"`
}

func (x *SwipeBatchRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type ItemError struct {
	Index        int32  `json:"index"`
	TargetUserId string `json:"target_user_id"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

type SwipeBatchResponse struct {
	Processed int32        `json:"processed"`
	Likes     int32        `json:"likes"`
	Passes    int32        `json:"passes"`
	MatchIds  []string     `json:"match_ids"`
	Failed    []*ItemError `json:"failed"`
}

type SendMessageRequest struct {
	SenderUserId string `json:"sender_user_id"`
	MatchId      string `json:"match_id"`
	Body         string `json:"body"`
}

func (x *SendMessageRequest) GetSenderUserId() string {
	if x != nil {
		return x.SenderUserId
	}
	return ""
}

type SendMessageResponse struct {
	MessageId     string `json:"message_id"`
	SentCount     int64  `json:"sent_count"`
	UnixTimestamp uint64 `json:"unix_timestamp"`
}

type CountLikedYouRequest struct {
	RecipientUserId string `json:"recipient_user_id"`
}

func (x *CountLikedYouRequest) GetRecipientUserId() string {
	if x != nil {
		return x.RecipientUserId
	}
	return ""
}

type CountLikedYouResponse struct {
	Count uint64 `json:"count"`
}

type ListLikedYouRequest struct {
	RecipientUserId string  `json:"recipient_user_id"`
	PaginationToken *string `json:"pagination_token,omitempty"`
	Limit           int32   `json:"limit,omitempty"`
}

func (x *ListLikedYouRequest) GetRecipientUserId() string {
	if x != nil {
		return x.RecipientUserId
	}
	return ""
}

func (x *ListLikedYouRequest) GetPaginationToken() string {
	if x != nil && x.PaginationToken != nil {
		return *x.PaginationToken
	}
	return ""
}

type Liker struct {
	ActorId       string `json:"actor_id"`
	UnixTimestamp uint64 `json:"unix_timestamp"`
}

type ListLikedYouResponse struct {
	Likers              []*Liker `json:"likers"`
	NextPaginationToken *string  `json:"next_pagination_token,omitempty"`
}

func (x *ListLikedYouResponse) GetNextPaginationToken() string {
	if x != nil && x.NextPaginationToken != nil {
		return *x.NextPaginationToken
	}
	return ""
}

type ListMatchesRequest struct {
	UserId          string  `json:"user_id"`
	PaginationToken *string `json:"pagination_token,omitempty"`
	Limit           int32   `json:"limit,omitempty"`
}

func (x *ListMatchesRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type Match struct {
	MatchId       string `json:"match_id"`
	User1Id       string `json:"user1_id"`
	User2Id       string `json:"user2_id"`
	UnixTimestamp uint64 `json:"unix_timestamp"`
}

type ListMatchesResponse struct {
	Matches             []*Match `json:"matches"`
	NextPaginationToken *string  `json:"next_pagination_token,omitempty"`
}

func (x *ListMatchesResponse) GetNextPaginationToken() string {
	if x != nil && x.NextPaginationToken != nil {
		return *x.NextPaginationToken
	}
	return ""
}

type GetCuratedMatchRequest struct {
	UserId string `json:"user_id"`
}

func (x *GetCuratedMatchRequest) GetUserId() string {
	if x != nil {
		return x.UserId
	}
	return ""
}

type GetCuratedMatchResponse struct {
	PartnerUserId string  `json:"partner_user_id"`
	Score         float64 `json:"score"`
	UnixTimestamp uint64  `json:"unix_timestamp"`
}
