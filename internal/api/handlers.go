package api

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	apperrors "github.com/oggyb/muzz-matchmaker/internal/errors"
	"github.com/oggyb/muzz-matchmaker/internal/recommend"
	"github.com/oggyb/muzz-matchmaker/internal/service/feed"
	"github.com/oggyb/muzz-matchmaker/internal/service/swipe"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	appCtx *app.AppContext
	feeds  *feed.Service
	swipes *swipe.Service
}

func NewHandler(appCtx *app.AppContext) *Handler {
	return &Handler{
		appCtx: appCtx,
		feeds:  feed.NewService(appCtx),
		swipes: swipe.NewService(appCtx),
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type batchRequest struct {
	UserID uint64       `json:"user_id"`
	Items  []swipe.Item `json:"items"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type pageResponse[T any] struct {
	Items     []T     `json:"items"`
	NextToken *string `json:"next_token,omitempty"`
}

// GetFeed serves GET /v1/users/{id}/feed.
//
// Query: limit, mode, lat+lon (location override), age_min, age_max,
// max_distance_km and genders (comma separated) override stored preferences.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()

	req := feed.Request{UserID: userID, Mode: recommend.Mode(q.Get("mode"))}
	if req.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		h.writeError(w, err)
		return
	}
	if lat, lon := q.Get("lat"), q.Get("lon"); lat != "" || lon != "" {
		loc, err := parseLocation(lat, lon)
		if err != nil {
			h.writeError(w, err)
			return
		}
		req.Location = loc
	}
	if req.Preferences, err = parsePreferences(q); err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.feeds.GetFeed(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Swipe serves POST /v1/swipes.
func (h *Handler) Swipe(w http.ResponseWriter, r *http.Request) {
	var req swipe.Request
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.swipes.Swipe(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Recorded {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// SwipeBatch serves POST /v1/swipes/batch.
func (h *Handler) SwipeBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.swipes.SwipeBatch(r.Context(), req.UserID, req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SendMessage serves POST /v1/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req swipe.MessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.swipes.SendMessage(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) CountLikedYou(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.swipes.CountLikedYou(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *Handler) ListLikedYou(w http.ResponseWriter, r *http.Request) {
	listPage(h, w, r, h.swipes.ListLikedYou)
}

func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	listPage(h, w, r, h.swipes.ListMatches)
}

func (h *Handler) GetCuratedMatch(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.feeds.GetCuratedMatch(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Health reports whether the database and Redis answer within a second.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	checks := map[string]string{"db": "ok", "redis": "ok"}
	status := http.StatusOK

	if sqlDB, err := h.appCtx.DB.DB(); err != nil {
		checks["db"] = err.Error()
		status = http.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["db"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := h.appCtx.Redis.Ping(ctx).Err(); err != nil {
		// the engine serves without Redis, so this only degrades
		checks["redis"] = err.Error()
	}
	writeJSON(w, status, checks)
}

func listPage[T any](
	h *Handler, w http.ResponseWriter, r *http.Request,
	list func(ctx context.Context, userID uint64, token *string, limit int) ([]T, *string, error),
) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}
	var token *string
	if t := r.URL.Query().Get("token"); t != "" {
		token = &t
	}

	items, next, err := list(r.Context(), userID, token, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[T]{Items: items, NextToken: next})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if remaining, reset, ok := apperrors.Quota(err); ok {
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Milliseconds(), 10))
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(reset.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		h.appCtx.Logger.Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: apperrors.KindOf(err).String(), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.Validation("user id %q must be a positive integer", raw)
	}
	return id, nil
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.Validation("%s must be an integer", name)
	}
	return n, nil
}

func queryFloat(v, name string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperrors.Validation("%s must be a number", name)
	}
	return f, nil
}

func parseLocation(lat, lon string) (*recommend.GeoPoint, error) {
	if lat == "" || lon == "" {
		return nil, apperrors.Validation("lat and lon must be given together")
	}
	la, err := queryFloat(lat, "lat")
	if err != nil {
		return nil, err
	}
	lo, err := queryFloat(lon, "lon")
	if err != nil {
		return nil, err
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return nil, apperrors.Validation("location out of range")
	}
	return &recommend.GeoPoint{Lat: la, Lon: lo}, nil
}

// parsePreferences returns nil when no preference parameter is present.
func parsePreferences(q url.Values) (*recommend.Preferences, error) {
	ageMin, ageMax, dist, genders := q.Get("age_min"), q.Get("age_max"), q.Get("max_distance_km"), q.Get("genders")
	if ageMin == "" && ageMax == "" && dist == "" && genders == "" {
		return nil, nil
	}

	var (
		p   recommend.Preferences
		err error
	)
	if p.AgeMin, err = queryInt(ageMin, "age_min"); err != nil {
		return nil, err
	}
	if p.AgeMax, err = queryInt(ageMax, "age_max"); err != nil {
		return nil, err
	}
	if p.MaxDistanceKm, err = queryFloat(dist, "max_distance_km"); err != nil {
		return nil, err
	}
	if genders != "" {
		for _, g := range strings.Split(genders, ",") {
			if g = strings.TrimSpace(g); g != "" {
				p.Genders = append(p.Genders, g)
			}
		}
	}
	return &p, nil
}
