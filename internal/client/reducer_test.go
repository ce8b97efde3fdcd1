package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysphere/internal/app/chat"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func localMsg(tempID, text string) chat.Message {
	return chat.Message{RoomID: "math", SenderID: "u1", SenderName: "Ada", Text: text, TempID: tempID, CreatedAt: t0}
}

func serverMsg(id, text string, at time.Time) chat.Message {
	return chat.Message{ID: id, RoomID: "math", SenderID: "u1", SenderName: "Ada", Text: text, CreatedAt: at, Reactions: []chat.Reaction{}}
}

func TestApply_OptimisticSendConfirmed(t *testing.T) {
	s := Apply(State{}, HistorySync{Messages: []chat.Message{}})
	require.Empty(t, s.Entries)

	s = Apply(s, LocalSend{Message: localMsg("tmp_1", "hello")})
	require.Len(t, s.Entries, 1)
	assert.True(t, s.Entries[0].Pending())
	assert.Equal(t, "tmp_1", s.Entries[0].Key())

	confirmed := serverMsg("abc123", "hello", t0.Add(time.Second))
	confirmed.TempID = "tmp_1"
	s = Apply(s, ServerConfirm{Message: confirmed})

	require.Len(t, s.Entries, 1)
	got := s.Entries[0]
	assert.Equal(t, "abc123", got.Message.ID)
	assert.Equal(t, "hello", got.Message.Text)
	assert.False(t, got.Pending())
	assert.Equal(t, StatusSent, got.Status)
	assert.Equal(t, t0.Add(time.Second), got.Message.CreatedAt)
}

func TestApply_LocalSendIgnoresDuplicateTempID(t *testing.T) {
	s := Apply(State{}, LocalSend{Message: localMsg("tmp_1", "hello")})
	s = Apply(s, LocalSend{Message: localMsg("tmp_1", "hello again")})

	require.Len(t, s.Entries, 1)
	assert.Equal(t, "hello", s.Entries[0].Message.Text)
}

func TestApply_BroadcastAndConfirmYieldOneEntry(t *testing.T) {
	msg := serverMsg("m1", "hi", t0)
	msg.TempID = "tmp_1"

	tests := []struct {
		name   string
		events []Event
	}{
		{"broadcast then confirm", []Event{ServerBroadcast{Message: msg}, ServerConfirm{Message: msg}}},
		{"confirm then broadcast", []Event{ServerConfirm{Message: msg}, ServerBroadcast{Message: msg}}},
		{"broadcast twice", []Event{ServerBroadcast{Message: msg}, ServerBroadcast{Message: msg}}},
		{"history first", []Event{HistorySync{Messages: []chat.Message{serverMsg("m1", "hi", t0)}}, ServerBroadcast{Message: msg}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Apply(State{}, LocalSend{Message: localMsg("tmp_1", "hi")})
			for _, ev := range tt.events {
				s = Apply(s, ev)
			}

			require.Len(t, s.Entries, 1)
			assert.Equal(t, "m1", s.Entries[0].Message.ID)
			assert.Equal(t, StatusSent, s.Entries[0].Status)
		})
	}
}

func TestApply_ForeignBroadcast(t *testing.T) {
	s := Apply(State{}, ServerBroadcast{Message: serverMsg("m1", "first", t0)})
	s = Apply(s, ServerBroadcast{Message: serverMsg("m2", "second", t0.Add(time.Second))})
	require.Len(t, s.Entries, 2)

	edited := serverMsg("m1", "first (edited)", t0)
	s = Apply(s, ServerBroadcast{Message: edited})
	require.Len(t, s.Entries, 2)
	assert.Equal(t, "first (edited)", s.Entries[0].Message.Text)
}

func TestApply_FailureAndResend(t *testing.T) {
	s := Apply(State{}, LocalSend{Message: localMsg("tmp_1", "hello")})

	s = Apply(s, SendFailed{TempID: "tmp_1"})
	require.Len(t, s.Entries, 1)
	assert.Equal(t, StatusFailed, s.Entries[0].Status)

	s = Apply(s, HistorySync{Messages: []chat.Message{serverMsg("m1", "other", t0)}})
	require.Len(t, s.Entries, 2)
	assert.Equal(t, "m1", s.Entries[0].Message.ID)
	assert.Equal(t, StatusFailed, s.Entries[1].Status, "failed entries survive history syncs")

	s = Apply(s, Resend{TempID: "tmp_1"})
	assert.Equal(t, StatusPending, s.Entries[1].Status)

	s = Apply(s, FailPending{})
	assert.Equal(t, StatusFailed, s.Entries[1].Status)
}

func TestApply_SendFailedAfterConfirmIsIgnored(t *testing.T) {
	msg := serverMsg("m1", "hi", t0)
	msg.TempID = "tmp_1"

	s := Apply(State{}, LocalSend{Message: localMsg("tmp_1", "hi")})
	s = Apply(s, ServerBroadcast{Message: msg})
	s = Apply(s, SendFailed{TempID: "tmp_1"})

	assert.Equal(t, StatusSent, s.Entries[0].Status)
}

func TestApply_ServerReaction(t *testing.T) {
	s := Apply(State{}, ServerBroadcast{Message: serverMsg("m1", "hi", t0)})

	s = Apply(s, ServerReaction{Update: chat.ReactionUpdate{MessageID: "m1", Emoji: "👍", UserID: "u2", Added: true}})
	require.Len(t, s.Entries[0].Message.Reactions, 1)

	s = Apply(s, ServerReaction{Update: chat.ReactionUpdate{MessageID: "m1", Emoji: "👍", UserID: "u2", Added: true}})
	assert.Len(t, s.Entries[0].Message.Reactions, 1, "add is idempotent")

	s = Apply(s, ServerReaction{Update: chat.ReactionUpdate{MessageID: "m1", Emoji: "👍", UserID: "u2", Added: false}})
	assert.Empty(t, s.Entries[0].Message.Reactions)

	full := []chat.Reaction{{Emoji: "🎉", UserID: "u3"}, {Emoji: "👍", UserID: "u4"}}
	s = Apply(s, ServerReaction{Update: chat.ReactionUpdate{MessageID: "m1", Emoji: "🎉", UserID: "u3", Added: true, Reactions: full}})
	assert.Equal(t, full, s.Entries[0].Message.Reactions)

	before := s
	s = Apply(s, ServerReaction{Update: chat.ReactionUpdate{MessageID: "missing", Emoji: "🎉", UserID: "u3", Added: true}})
	assert.Equal(t, before, s)
}

func TestApply_HistorySyncOrdersAndDeduplicates(t *testing.T) {
	s := Apply(State{}, ServerBroadcast{Message: serverMsg("m3", "three", t0.Add(3*time.Second))})
	s = Apply(s, LocalSend{Message: localMsg("tmp_1", "mine")})

	s = Apply(s, HistorySync{Messages: []chat.Message{
		serverMsg("m1", "one", t0.Add(time.Second)),
		serverMsg("m2b", "two-b", t0.Add(2*time.Second)),
		serverMsg("m2a", "two-a", t0.Add(2*time.Second)),
		serverMsg("m3", "three", t0.Add(3*time.Second)),
	}})

	keys := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []string{"m1", "m2a", "m2b", "m3", "tmp_1"}, keys)
}

func TestApply_HistorySyncSettlesMissedEcho(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			s := Apply(State{}, LocalSend{Message: localMsg("tmp_1", "hello")})
			s = Apply(s, LocalSend{Message: localMsg("tmp_2", "still going")})
			if status == StatusFailed {
				s = Apply(s, SendFailed{TempID: "tmp_1"})
			}

			stored := serverMsg("abc123", "hello", t0.Add(time.Second))
			stored.TempID = "tmp_1"
			s = Apply(s, HistorySync{Messages: []chat.Message{stored}})

			require.Len(t, s.Entries, 2)
			assert.Equal(t, "abc123", s.Entries[0].Key())
			assert.Equal(t, StatusSent, s.Entries[0].Status)
			assert.Equal(t, "tmp_1", s.Entries[0].TempID)
			assert.Equal(t, "tmp_2", s.Entries[1].Key())
			assert.True(t, s.Entries[1].Pending())

			// the live echo arriving late does not add a second entry
			s = Apply(s, ServerBroadcast{Message: stored})
			assert.Len(t, s.Entries, 2)
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	s := Apply(State{}, LocalSend{Message: localMsg("tmp_1", "hello")})
	snapshot := State{Entries: append([]Entry(nil), s.Entries...)}

	_ = Apply(s, SendFailed{TempID: "tmp_1"})
	assert.Equal(t, snapshot, s)
}
