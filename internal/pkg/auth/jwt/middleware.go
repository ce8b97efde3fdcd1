package jwt

import (
	"context"
	"net/http"
	"strings"

	"studysphere/internal/pkg/errs"
	"studysphere/internal/pkg/logx"
	"studysphere/internal/pkg/resp"
)

type contextKey string

const (
	// ContextAuthPayloadKey is the key used to store the parsed *Payload in the request Context.
	ContextAuthPayloadKey contextKey = "auth_payload"

	// QueryTokenKey is the query parameter browsers use to pass the token on the
	// WebSocket handshake, where custom headers cannot be set.
	QueryTokenKey = "token"
)

// BearerToken extracts the token from "Authorization: Bearer <token>".
// When allowQuery is set, the token query parameter is accepted as a fallback.
func BearerToken(r *http.Request, allowQuery bool) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}

	if allowQuery {
		return r.URL.Query().Get(QueryTokenKey)
	}

	return ""
}

// Authenticate validates the request's bearer token and returns its claims.
func Authenticate(r *http.Request, secretKey string, allowQuery bool) (*Payload, error) {
	tokenString := BearerToken(r, allowQuery)
	if tokenString == "" {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	payload, err := ParseToken(tokenString, secretKey)
	if err != nil {
		logx.Warn("Rejected bearer token", "error", err.Error(), "path", r.URL.Path)
		return nil, errs.NewError(errs.ErrUnauthorized)
	}

	return payload, nil
}

// RequireAuthMiddleware rejects requests without a valid bearer token with
// ErrUnauthorized (HTTP 401) and injects the claims into the context otherwise.
func RequireAuthMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload, err := Authenticate(r, secretKey, false)
			if err != nil {
				resp.RespondError(w, r, errs.From(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPayload(r.Context(), payload)))
		})
	}
}

// WithPayload returns a copy of ctx carrying payload.
func WithPayload(ctx context.Context, payload *Payload) context.Context {
	return context.WithValue(ctx, ContextAuthPayloadKey, payload)
}

// GetPayloadFromContext extracts the authenticated Payload from the request Context.
// It returns nil outside RequireAuthMiddleware.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)

	if !ok {
		return nil
	}

	return payload
}
