package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"studysphere/internal/app/user"
)

// Client -> server events.
const (
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventSendMessage     = "send_message"
	EventTyping          = "typing"
	EventMessageReaction = "message_reaction"
)

// Server -> client events.
const (
	EventNewMessage  = "new_message"
	EventNewReaction = "new_reaction"
	EventUserTyping  = "user_typing"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventRoomJoined  = "room_joined"
	EventError       = "error"
)

// Envelope is the frame exchanged on the real-time channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into an envelope frame for event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}

	return marshal(Envelope{Event: event, Data: raw})
}

// marshal is json.Marshal without HTML escaping, so "<" and "&" in message
// text stay one byte on the wire.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// RoomRef is the payload of join_room and leave_room. On the wire it is either
// a bare room id string or an object {"roomId": "..."}.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// UnmarshalJSON accepts both wire shapes of RoomRef.
func (r *RoomRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.RoomID)
	}

	var obj struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.RoomID = obj.RoomID
	return nil
}

// SendMessagePayload is the payload of send_message. Text and Content are
// aliases; senderName/senderEmail/sender are the profile hints older clients send.
type SendMessagePayload struct {
	RoomID      string       `json:"roomId"`
	Text        string       `json:"text,omitempty"`
	Content     string       `json:"content,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	TempID      string       `json:"tempId,omitempty"`
	SenderName  string       `json:"senderName,omitempty"`
	SenderEmail string       `json:"senderEmail,omitempty"`
	Sender      *user.Sender `json:"sender,omitempty"`
}

// Body returns the message text, preferring Text over Content.
func (p SendMessagePayload) Body() string {
	if p.Text != "" {
		return p.Text
	}
	return p.Content
}

// ResolveSender builds the sender of the message. The id is always the
// authenticated one; profile hints from the payload override the token's profile.
func (p SendMessagePayload) ResolveSender(identity user.User) user.Sender {
	name, email := p.SenderName, p.SenderEmail
	if p.Sender != nil && p.Sender.Kind == user.KindProfile {
		if name == "" {
			name = p.Sender.Name
		}
		if email == "" {
			email = p.Sender.Email
		}
	}

	if name == "" && email == "" {
		return identity.Sender()
	}
	return user.ProfileSender("", name, email).WithID(identity.ID)
}

// TypingPayload is the payload of typing (client -> server).
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// ReactionPayload is the payload of message_reaction.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	Emoji     string `json:"emoji"`
}

// UserTypingPayload is the payload of user_typing.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// PresencePayload is the payload of user_joined and user_left.
type PresencePayload struct {
	UserID    string    `json:"userId"`
	RoomID    string    `json:"roomId"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomJoinedPayload acknowledges a join with the room's online users.
type RoomJoinedPayload struct {
	RoomID      string   `json:"roomId"`
	OnlineUsers []string `json:"onlineUsers"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	TempID  string `json:"tempId,omitempty"`
}
