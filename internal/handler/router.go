// Package handler assembles the HTTP router.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/unclebandit/communitybot-admin/internal/controller"
	"github.com/unclebandit/communitybot-admin/internal/middleware"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterConfig struct {
	Broadcasts    *controller.BroadcastController
	Polls         *controller.PollController
	DB            Pinger
	JWTSecret     string
	RatePerMinute int
	Log           zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(cfg.Log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		evt := hlog.FromRequest(r).Info()
		if status >= http.StatusInternalServerError {
			evt = hlog.FromRequest(r).Error()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", health(cfg.DB))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewRateLimiter(cfg.RatePerMinute).Handler)
		r.Use(middleware.Auth(cfg.JWTSecret))

		r.Route("/broadcasts", func(r chi.Router) {
			b := cfg.Broadcasts
			r.Get("/", b.List)
			r.Post("/", b.Create)
			r.Get("/{id}/logs", b.Logs)
			r.Patch("/{id}/cancel", b.Cancel)
			r.Get("/{id}/target-users", b.TargetUsers)
			r.Post("/{id}/retry-all", b.RetryAll)
			r.Post("/{id}/retry/{userId}", b.RetryOne)
		})

		r.Route("/polls", func(r chi.Router) {
			p := cfg.Polls
			r.Get("/", p.List)
			r.Post("/", p.Create)
			r.Get("/{id}", p.Get)
			r.Delete("/{id}", p.Delete)
		})
	})
	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"success":false,"message":"database unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}
}
