/*
Package presence tracks which users are online in each room.

A user may hold several connections to the same room (tabs, devices); the
tracker counts connections per user and reports a user online while the count
is positive.
*/
package presence

import (
	"context"
	"slices"
	"sync"
)

// Tracker records room presence.
type Tracker interface {
	// Add registers one more connection of userID in roomID and returns the
	// user's resulting connection count.
	Add(ctx context.Context, roomID, userID string) (int, error)

	// Remove drops one connection of userID from roomID and returns the
	// remaining count. Removing an absent user returns 0.
	Remove(ctx context.Context, roomID, userID string) (int, error)

	// Online returns the users with at least one connection in roomID, sorted.
	Online(ctx context.Context, roomID string) ([]string, error)
}

// MemoryTracker is an in-process Tracker.
type MemoryTracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]int
}

// NewMemoryTracker creates an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{rooms: make(map[string]map[string]int)}
}

func (t *MemoryTracker) Add(_ context.Context, roomID, userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[roomID]
	if !ok {
		users = make(map[string]int)
		t.rooms[roomID] = users
	}
	users[userID]++
	return users[userID], nil
}

func (t *MemoryTracker) Remove(_ context.Context, roomID, userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.rooms[roomID]
	if !ok {
		return 0, nil
	}

	remaining := users[userID] - 1
	if remaining <= 0 {
		remaining = 0
		delete(users, userID)
	} else {
		users[userID] = remaining
	}

	if len(users) == 0 {
		delete(t.rooms, roomID)
	}
	return remaining, nil
}

func (t *MemoryTracker) Online(_ context.Context, roomID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.rooms[roomID]))
	for userID := range t.rooms[roomID] {
		out = append(out, userID)
	}
	slices.Sort(out)
	return out, nil
}
