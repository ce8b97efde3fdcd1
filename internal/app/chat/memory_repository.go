package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"studysphere/internal/pkg/randx"
)

// MemoryRepository is an in-process Repository used in development and tests.
// Data lives for the lifetime of the process.
type MemoryRepository struct {
	mu sync.RWMutex

	rooms    map[string]*ChatRoom
	messages map[string]*Message

	// byRoom holds message ids per room in CompareMessages order.
	// CreateMessage never goes back in time, so inserts land near the end.
	byRoom map[string][]string

	now func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rooms:    make(map[string]*ChatRoom),
		messages: make(map[string]*Message),
		byRoom:   make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) CreateRoom(_ context.Context, room ChatRoom) (ChatRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.ID]; ok {
		return ChatRoom{}, ErrRoomExists
	}

	stored := room
	stored.Members = slices.Clone(room.Members)
	if stored.Members == nil {
		stored.Members = []string{}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}

	r.rooms[room.ID] = &stored
	return copyRoom(&stored), nil
}

func (r *MemoryRepository) GetRoom(_ context.Context, roomID string) (ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ChatRoom{}, ErrNotFound
	}
	return copyRoom(room), nil
}

func (r *MemoryRepository) ListRooms(_ context.Context) ([]ChatRoom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ChatRoom, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, copyRoom(room))
	}

	slices.SortFunc(out, func(a, b ChatRoom) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return out, nil
}

func (r *MemoryRepository) AddMember(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(room.Members, userID) {
		room.Members = append(room.Members, userID)
	}
	return nil
}

func (r *MemoryRepository) RemoveMember(_ context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	room.Members = slices.DeleteFunc(room.Members, func(m string) bool { return m == userID })
	return nil
}

func (r *MemoryRepository) CreateMessage(_ context.Context, msg Message) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[msg.RoomID]; !ok {
		return Message{}, ErrNotFound
	}

	stored := msg
	stored.ID = randx.MessageID()
	stored.Reactions = []Reaction{}
	stored.CreatedAt = r.now()

	ids := r.byRoom[msg.RoomID]
	if n := len(ids); n > 0 {
		if last := r.messages[ids[n-1]].CreatedAt; stored.CreatedAt.Before(last) {
			stored.CreatedAt = last
		}
	}

	pos, _ := slices.BinarySearchFunc(ids, stored, func(id string, m Message) int {
		return CompareMessages(*r.messages[id], m)
	})
	r.messages[stored.ID] = &stored
	r.byRoom[msg.RoomID] = slices.Insert(ids, pos, stored.ID)

	return copyMessage(&stored), nil
}

func (r *MemoryRepository) GetMessage(_ context.Context, messageID string) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return copyMessage(msg), nil
}

func (r *MemoryRepository) ListMessages(_ context.Context, roomID string, q HistoryQuery) ([]Message, error) {
	q = q.normalized()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.rooms[roomID]; !ok {
		return nil, ErrNotFound
	}

	ids := r.byRoom[roomID]
	start := len(ids)
	for start > 0 && len(ids)-start < q.Limit {
		if !r.messages[ids[start-1]].CreatedAt.After(q.After) {
			break
		}
		start--
	}

	out := make([]Message, 0, len(ids)-start)
	for _, id := range ids[start:] {
		out = append(out, copyMessage(r.messages[id]))
	}
	return out, nil
}

func (r *MemoryRepository) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, []Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return false, nil, ErrNotFound
	}

	reactions, added := ToggleReaction(msg.Reactions, emoji, userID, r.now())
	msg.Reactions = reactions

	return added, slices.Clone(reactions), nil
}

func copyRoom(room *ChatRoom) ChatRoom {
	out := *room
	out.Members = slices.Clone(room.Members)
	return out
}

func copyMessage(msg *Message) Message {
	out := *msg
	out.Reactions = slices.Clone(msg.Reactions)
	if out.Reactions == nil {
		out.Reactions = []Reaction{}
	}
	return out
}
