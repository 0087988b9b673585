// Package api exposes the matchmaking operations over HTTP/JSON.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	"github.com/oggyb/muzz-matchmaker/internal/logger"
)

// NewRouter wires every route onto a chi router.
func NewRouter(appCtx *app.AppContext) http.Handler {
	h := NewHandler(appCtx)
	cfg := appCtx.Config.HTTP

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(appCtx))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.RequestsPerMin > 0 {
			r.Use(httprate.LimitByIP(cfg.RequestsPerMin, time.Minute))
		}

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/feed", h.GetFeed)
			r.Get("/matches", h.ListMatches)
			r.Get("/likes", h.ListLikedYou)
			r.Get("/likes/count", h.CountLikedYou)
			r.Get("/curated", h.GetCuratedMatch)
		})
		r.Post("/swipes", h.Swipe)
		r.Post("/swipes/batch", h.SwipeBatch)
		r.Post("/messages", h.SendMessage)
	})

	return r
}

// requestLogger scopes the service loggers to the request id.
func requestLogger(appCtx *app.AppContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := appCtx.Logger.With("request_id", chimiddleware.GetReqID(r.Context()))
			next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
		})
	}
}
