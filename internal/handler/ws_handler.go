/*
This file contains HandleWebSocket, which rate limits and authenticates the
handshake, upgrades the connection and runs the client until it disconnects.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"studysphere/internal/app/chat"
	"studysphere/internal/pkg/auth/jwt"
	"studysphere/internal/pkg/errs"
	"studysphere/internal/pkg/limiter"
	"studysphere/internal/pkg/logx"
	"studysphere/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// A missing or invalid token is answered with HTTP 401 and the connection is not upgraded.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		payload, err := jwt.Authenticate(r, deps.Config.JWTSecret, true)
		if err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Service, conn, payload.User())
		client.Serve()
	}
}
