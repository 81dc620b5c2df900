/*
Package handler provides the HTTP handlers and routing setup for the direct-messaging server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"forumdm/internal/pkg/auth/jwt"
	"forumdm/internal/pkg/limiter"
	"forumdm/internal/pkg/logx"
	"forumdm/internal/pkg/resp"
)

const (
	DevSessionRate  = 0.5
	DevSessionBurst = 5
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
func Router(deps *AppDeps) http.Handler {
	upgradeLimiter := limiter.NewIPRateLimiter(rate.Limit(deps.Config.RateLimit), deps.Config.RateBurst)
	devLimiter := limiter.NewIPRateLimiter(rate.Limit(DevSessionRate), DevSessionBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "forumdm",
			"node":    deps.Config.NodeID,
		}
		resp.RespondSuccess(w, r, data)
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret, deps.Config.SessionCookie))

		api.Get("/current-user", HandleCurrentUser(deps))
		api.Post("/logout", HandleLogout(deps))

		api.Route("/chat", func(chat chi.Router) {
			chat.Get("/users", HandleListUsers(deps))
			chat.Get("/messages", HandleHistory(deps))
		})

		if deps.Config.IsDevelopment() {
			api.With(devLimiter.Middleware).Post("/dev/session", HandleDevSession(deps))
		}
	})

	r.With(upgradeLimiter.Middleware).Get("/ws", HandleWebSocket(wsUpgrader, deps))

	return r
}
