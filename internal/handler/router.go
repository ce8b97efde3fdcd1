/*
Package handler provides the HTTP handlers and routing setup for the StudySphere chat server.

This file defines the main Router, applying middleware like request logging, CORS,
authentication and IP-based rate limiting before delegating requests to the REST
and WebSocket handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"studysphere/internal/metrics"
	"studysphere/internal/pkg/auth/jwt"
	"studysphere/internal/pkg/limiter"
	"studysphere/internal/pkg/logx"
	"studysphere/internal/pkg/resp"
)

const (
	CreateRoomRate  = 0.05
	CreateRoomBurst = 2
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
func Router(deps *AppDeps) http.Handler {
	messageLimiter := limiter.NewIPRateLimiter(rate.Limit(deps.Config.RateLimit), deps.Config.RateBurst)
	handshakeLimiter := limiter.NewIPRateLimiter(rate.Limit(deps.Config.RateLimit), deps.Config.RateBurst)
	createLimiter := limiter.NewIPRateLimiter(rate.Limit(CreateRoomRate), CreateRoomBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if deps.Config.IsDevelopment() || origin == "" {
				return true
			}

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
			"service": "StudySphere Chat",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/chat", func(api chi.Router) {
		api.Use(jwt.RequireAuthMiddleware(deps.Config.JWTSecret))

		api.Get("/messages/{roomId}", HandleGetMessages(deps))
		api.With(messageLimiter.Middleware).Post("/messages", HandlePostMessage(deps))
		api.With(messageLimiter.Middleware).Post("/messages/{messageId}/reactions", HandleReact(deps))

		api.Get("/rooms", HandleListRooms(deps))
		api.With(createLimiter.Middleware).Post("/rooms", HandleCreateRoom(deps))

		api.Get("/room/{roomId}", HandleGetRoom(deps))
		api.Post("/room/{roomId}/join", HandleJoinRoom(deps))
		api.Post("/room/{roomId}/leave", HandleLeaveRoom(deps))
	})

	r.Get("/ws", HandleWebSocket(deps, wsUpgrader, handshakeLimiter))

	return r
}
