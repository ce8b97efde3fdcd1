/*
This file contains the REST handlers of the chat API: message history and
posting, reactions, and room lookup, creation and membership.
*/
package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"studysphere/internal/app/chat"
	"studysphere/internal/metrics"
	"studysphere/internal/pkg/auth/jwt"
	"studysphere/internal/pkg/errs"
	"studysphere/internal/pkg/req"
	"studysphere/internal/pkg/resp"
)

// HandleGetMessages returns the history of a room, oldest first.
// Query: limit (default 50, max 200), after (RFC 3339, exclusive).
func HandleGetMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, customErr := req.QueryInt(r, "limit", chat.DefaultHistoryLimit)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var after time.Time
		if raw := r.URL.Query().Get("after"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			after = t
		}

		msgs, customErr := deps.Service.GetHistory(r.Context(), chi.URLParam(r, "roomId"), chat.HistoryQuery{
			Limit: limit,
			After: after,
		})
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, msgs)
	}
}

// HandlePostMessage persists a message and broadcasts it on the real-time channel.
func HandlePostMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r).User()

		var input chat.SendMessagePayload
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msg, customErr := deps.Service.PostMessage(r.Context(), chat.PostInput{
			RoomID:  input.RoomID,
			Sender:  input.ResolveSender(identity),
			Text:    input.Body(),
			ReplyTo: input.ReplyTo,
			TempID:  input.TempID,
		})
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		metrics.MessagesTotal.WithLabelValues(metrics.SourceREST).Inc()
		resp.RespondSuccess(w, r, msg)
	}
}

// ReactInput is the body of a reaction toggle.
type ReactInput struct {
	RoomID string `json:"roomId"`
	Emoji  string `json:"emoji"`
}

// HandleReact toggles the caller's reaction on a message.
func HandleReact(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input ReactInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		update, customErr := deps.Service.React(r.Context(), chat.ReactInput{
			RoomID:    input.RoomID,
			MessageID: chi.URLParam(r, "messageId"),
			Emoji:     input.Emoji,
			UserID:    identity.ID,
		})
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if update.Added {
			metrics.ReactionsTotal.WithLabelValues("true").Inc()
		} else {
			metrics.ReactionsTotal.WithLabelValues("false").Inc()
		}
		resp.RespondSuccess(w, r, update)
	}
}

// HandleGetRoom returns the description of a room.
func HandleGetRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, customErr := deps.Service.GetRoom(r.Context(), chi.URLParam(r, "roomId"))
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		resp.RespondSuccess(w, r, room)
	}
}

// HandleListRooms returns every room.
func HandleListRooms(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, customErr := deps.Service.ListRooms(r.Context())
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		resp.RespondSuccess(w, r, rooms)
	}
}

// CreateRoomInput is the body of a room creation request.
type CreateRoomInput struct {
	RoomID      string `json:"roomId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// HandleCreateRoom creates a room owned by the caller.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input CreateRoomInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		room, customErr := deps.Service.CreateRoom(r.Context(), chat.ChatRoom{
			ID:          strings.TrimSpace(input.RoomID),
			Name:        input.Name,
			Description: input.Description,
			Color:       input.Color,
			Icon:        input.Icon,
		}, identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, room)
	}
}

// HandleJoinRoom adds the caller to the members of a room.
func HandleJoinRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		room, customErr := deps.Service.AddMember(r.Context(), chi.URLParam(r, "roomId"), identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		resp.RespondSuccess(w, r, room)
	}
}

// HandleLeaveRoom removes the caller from the members of a room.
func HandleLeaveRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		room, customErr := deps.Service.RemoveMember(r.Context(), chi.URLParam(r, "roomId"), identity.ID)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		resp.RespondSuccess(w, r, room)
	}
}
