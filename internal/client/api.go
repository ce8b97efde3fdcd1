package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"studysphere/internal/app/chat"
	"studysphere/internal/pkg/errs"
)

// RequestTimeout bounds every REST call.
const RequestTimeout = 10 * time.Second

var (
	// ErrUnauthorized is returned when the server rejects the session. The
	// session is cleared before it is returned.
	ErrUnauthorized = errors.New("client: unauthorized")

	// ErrRoomNotFound is returned when the addressed room does not exist.
	ErrRoomNotFound = errors.New("client: room not found")
)

// APIError is a non-success envelope returned by the server.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// Is maps server codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Code == errs.ErrUnauthorized
	case ErrRoomNotFound:
		return e.Code == errs.ErrRoomNotFound
	}
	return false
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// API is the REST client of the chat endpoints.
type API struct {
	baseURL string
	http    *http.Client
	session *Session
}

// NewAPI creates a client for the server at baseURL (scheme and host, e.g.
// "http://localhost:8080").
func NewAPI(baseURL string, session *Session) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: RequestTimeout},
		session: session,
	}
}

// History returns the newest limit messages of roomID, oldest first.
func (a *API) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var msgs []chat.Message
	path := "/api/chat/messages/" + url.PathEscape(roomID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// PostMessage sends a message over REST. The returned message carries the
// echoed temp id.
func (a *API) PostMessage(ctx context.Context, payload chat.SendMessagePayload) (chat.Message, error) {
	var msg chat.Message
	if err := a.do(ctx, http.MethodPost, "/api/chat/messages", payload, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// Room returns the description of roomID.
func (a *API) Room(ctx context.Context, roomID string) (chat.ChatRoom, error) {
	var room chat.ChatRoom
	if err := a.do(ctx, http.MethodGet, "/api/chat/room/"+url.PathEscape(roomID), nil, &room); err != nil {
		return chat.ChatRoom{}, err
	}
	return room, nil
}

// React toggles the caller's emoji reaction on messageID.
func (a *API) React(ctx context.Context, roomID, messageID, emoji string) (chat.ReactionUpdate, error) {
	body := map[string]string{"roomId": roomID, "emoji": emoji}

	var update chat.ReactionUpdate
	path := "/api/chat/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := a.do(ctx, http.MethodPost, path, body, &update); err != nil {
		return chat.ReactionUpdate{}, err
	}
	return update, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	token := a.session.Token()
	if token == "" {
		return ErrUnauthorized
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	res, err := a.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		if res.StatusCode == http.StatusUnauthorized {
			a.session.Clear()
			return ErrUnauthorized
		}
		return fmt.Errorf("%s %s: decode response (http %d): %w", method, path, res.StatusCode, err)
	}

	if res.StatusCode >= http.StatusBadRequest || env.Code != 0 {
		apiErr := &APIError{Status: res.StatusCode, Code: env.Code, Message: env.Message}
		if errors.Is(apiErr, ErrUnauthorized) {
			a.session.Clear()
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}
