package chat

import "context"

// Repository is the persistence collaborator of the chat service.
// Implementations return ErrNotFound for missing rooms/messages and
// ErrRoomExists for duplicate room keys.
type Repository interface {
	CreateRoom(ctx context.Context, room ChatRoom) (ChatRoom, error)
	GetRoom(ctx context.Context, roomID string) (ChatRoom, error)
	ListRooms(ctx context.Context) ([]ChatRoom, error)

	// AddMember is idempotent; RemoveMember is a no-op for non-members.
	AddMember(ctx context.Context, roomID, userID string) error
	RemoveMember(ctx context.Context, roomID, userID string) error

	// CreateMessage assigns the id and the server timestamp.
	CreateMessage(ctx context.Context, msg Message) (Message, error)
	GetMessage(ctx context.Context, messageID string) (Message, error)

	// ListMessages returns the window selected by q ordered oldest first.
	ListMessages(ctx context.Context, roomID string, q HistoryQuery) ([]Message, error)

	// ToggleReaction adds the (emoji, user) reaction when absent and removes it
	// when present, returning whether it was added and the resulting list.
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, []Reaction, error)
}
