package chat

import (
	"errors"
	"slices"
	"strings"
	"time"

	"studysphere/internal/app/user"
)

const (
	// DefaultHistoryLimit is the number of messages returned when no limit is given.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps a single history request.
	MaxHistoryLimit = 200

	// MaxContentBytes is the maximum size of a message text.
	MaxContentBytes = 5000

	// MaxEmojiRunes is the maximum length of a reaction emoji. Composite emoji
	// (flags, families) can span many code points.
	MaxEmojiRunes = 32

	// MaxRoomNameRunes is the maximum length of a room display name.
	MaxRoomNameRunes = 80
)

var (
	// ErrNotFound is returned by a Repository when the addressed record does not exist.
	ErrNotFound = errors.New("chat: not found")

	// ErrRoomExists is returned by a Repository when a room key is already taken.
	ErrRoomExists = errors.New("chat: room already exists")
)

// ChatRoom is the persisted description of a room.
type ChatRoom struct {
	ID          string    `json:"roomId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy,omitempty"`
}

// Reaction is one emoji applied to a message by one user.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a stored chat message, normalized for clients: the sender is
// already resolved into a display name.
type Message struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"roomId"`
	SenderID    string     `json:"senderId"`
	SenderName  string     `json:"sender"`
	SenderEmail string     `json:"senderEmail,omitempty"`
	Text        string     `json:"text"`
	CreatedAt   time.Time  `json:"timestamp"`
	ReplyTo     string     `json:"replyTo,omitempty"`
	Reactions   []Reaction `json:"reactions"`

	// TempID is the client's temporary id for the message. It is stored with
	// the message so history lets a client reconcile a send whose echo it missed.
	TempID string `json:"tempId,omitempty"`
}

// Sender rebuilds the sender union of m.
func (m Message) Sender() user.Sender {
	if m.SenderName == "" && m.SenderEmail == "" {
		return user.IDSender(m.SenderID)
	}
	return user.ProfileSender(m.SenderID, m.SenderName, m.SenderEmail)
}

// ReactionUpdate describes the outcome of a reaction toggle.
type ReactionUpdate struct {
	MessageID string     `json:"messageId"`
	RoomID    string     `json:"roomId"`
	Emoji     string     `json:"emoji"`
	UserID    string     `json:"userId"`
	Added     bool       `json:"added"`
	Reactions []Reaction `json:"reactions"`
}

// HistoryQuery selects a window of a room's history: the newest Limit messages
// strictly after After (zero After means from the beginning).
type HistoryQuery struct {
	Limit int
	After time.Time
}

// normalized clamps the limit into [1, MaxHistoryLimit].
func (q HistoryQuery) normalized() HistoryQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	return q
}

// ToggleReaction applies set semantics to a reaction list: the (emoji, userID)
// pair is removed when present and appended otherwise. The input slice is not
// modified.
func ToggleReaction(reactions []Reaction, emoji, userID string, at time.Time) ([]Reaction, bool) {
	idx := slices.IndexFunc(reactions, func(r Reaction) bool {
		return r.Emoji == emoji && r.UserID == userID
	})

	if idx >= 0 {
		return slices.Delete(slices.Clone(reactions), idx, idx+1), false
	}

	out := make([]Reaction, 0, len(reactions)+1)
	out = append(out, reactions...)
	out = append(out, Reaction{Emoji: emoji, UserID: userID, CreatedAt: at})
	return out, true
}

// CompareMessages orders messages oldest first, breaking timestamp ties by id.
// Every history source uses this order.
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortMessages sorts msgs by CompareMessages.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, CompareMessages)
}
