package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_Rooms(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.CreateRoom(ctx, ChatRoom{ID: "math", Name: "Math"})
	require.NoError(t, err)

	_, err = repo.CreateRoom(ctx, ChatRoom{ID: "math", Name: "Again"})
	assert.ErrorIs(t, err, ErrRoomExists)

	_, err = repo.GetRoom(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.AddMember(ctx, "math", "u1"))
	require.NoError(t, repo.AddMember(ctx, "math", "u1"))
	require.NoError(t, repo.AddMember(ctx, "math", "u2"))

	room, err := repo.GetRoom(ctx, "math")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, room.Members)

	require.NoError(t, repo.RemoveMember(ctx, "math", "u1"))
	require.NoError(t, repo.RemoveMember(ctx, "math", "ghost"))

	room, err = repo.GetRoom(ctx, "math")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, room.Members)

	assert.ErrorIs(t, repo.AddMember(ctx, "nope", "u1"), ErrNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.CreateRoom(ctx, ChatRoom{ID: "math", Members: []string{"u1"}})
	require.NoError(t, err)

	room, err := repo.GetRoom(ctx, "math")
	require.NoError(t, err)
	room.Members[0] = "mutated"

	again, err := repo.GetRoom(ctx, "math")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, again.Members)
}

func TestMemoryRepository_ListMessages(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	_, err := repo.CreateRoom(ctx, ChatRoom{ID: "math"})
	require.NoError(t, err)

	var ids []string
	for _, text := range []string{"one", "two", "three", "four"} {
		msg, err := repo.CreateMessage(ctx, Message{RoomID: "math", SenderID: "u1", Text: text, TempID: "tmp_x"})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "tmp_x", msg.TempID)
		assert.NotNil(t, msg.Reactions)
		ids = append(ids, msg.ID)
	}

	all, err := repo.ListMessages(ctx, "math", HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "one", all[0].Text)
	assert.Equal(t, "four", all[3].Text)

	latest, err := repo.ListMessages(ctx, "math", HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{latest[0].ID, latest[1].ID})

	after, err := repo.ListMessages(ctx, "math", HistoryQuery{After: all[1].CreatedAt})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "three", after[0].Text)

	_, err = repo.ListMessages(ctx, "nope", HistoryQuery{})
	assert.ErrorIs(t, err, ErrNotFound)

	empty, err := repo.CreateRoom(ctx, ChatRoom{ID: "empty"})
	require.NoError(t, err)
	msgs, err := repo.ListMessages(ctx, empty.ID, HistoryQuery{})
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestMemoryRepository_EqualTimestampsOrderByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return at }

	_, err := repo.CreateRoom(ctx, ChatRoom{ID: "math"})
	require.NoError(t, err)

	var created []Message
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		msg, err := repo.CreateMessage(ctx, Message{RoomID: "math", SenderID: "u1", Text: text})
		require.NoError(t, err)
		created = append(created, msg)
	}
	SortMessages(created)

	all, err := repo.ListMessages(ctx, "math", HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, all, len(created))
	for i := range created {
		assert.Equal(t, created[i].ID, all[i].ID)
	}

	latest, err := repo.ListMessages(ctx, "math", HistoryQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, created[3].ID, latest[0].ID)
	assert.Equal(t, created[4].ID, latest[1].ID)
}

func TestMemoryRepository_TimestampsNeverGoBack(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	times := []time.Time{clock, clock.Add(-time.Minute)}
	repo.now = func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}

	_, err := repo.CreateRoom(ctx, ChatRoom{ID: "math", CreatedAt: clock})
	require.NoError(t, err)

	first, err := repo.CreateMessage(ctx, Message{RoomID: "math", Text: "a"})
	require.NoError(t, err)
	second, err := repo.CreateMessage(ctx, Message{RoomID: "math", Text: "b"})
	require.NoError(t, err)

	assert.False(t, second.CreatedAt.Before(first.CreatedAt))
}

func TestMemoryRepository_ToggleReaction(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.CreateRoom(ctx, ChatRoom{ID: "math"})
	require.NoError(t, err)
	msg, err := repo.CreateMessage(ctx, Message{RoomID: "math", Text: "hi"})
	require.NoError(t, err)

	added, reactions, err := repo.ToggleReaction(ctx, msg.ID, "u1", "👍")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, reactions, 1)

	added, reactions, err = repo.ToggleReaction(ctx, msg.ID, "u1", "👍")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, reactions)

	_, _, err = repo.ToggleReaction(ctx, "missing", "u1", "👍")
	assert.ErrorIs(t, err, ErrNotFound)
}
