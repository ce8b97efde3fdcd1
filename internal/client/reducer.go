package client

import (
	"slices"

	"studysphere/internal/app/chat"
)

// Status is the delivery state of a message entry in the view.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Entry is one message as displayed by a room view. Optimistic entries have
// an empty Message.ID until the server confirms them.
type Entry struct {
	Message chat.Message
	TempID  string
	Status  Status
}

// Pending reports whether the entry is still waiting for the server.
func (e Entry) Pending() bool {
	return e.Status == StatusPending
}

// Key is the id the entry is addressed by: the server id once known, the
// temporary id before that.
func (e Entry) Key() string {
	if e.Message.ID != "" {
		return e.Message.ID
	}
	return e.TempID
}

// State is the message list of a room view. Values are never mutated in
// place by Apply.
type State struct {
	Entries []Entry
}

// Event is an input to the reducer.
type Event interface {
	isEvent()
}

// LocalSend adds an optimistic entry for a message the user just composed.
type LocalSend struct {
	Message chat.Message
}

// ServerConfirm carries the stored message returned by the REST fallback.
type ServerConfirm struct {
	Message chat.Message
}

// ServerBroadcast carries a new_message frame.
type ServerBroadcast struct {
	Message chat.Message
}

// ServerReaction carries a new_reaction frame or a REST reaction response.
type ServerReaction struct {
	Update chat.ReactionUpdate
}

// SendFailed marks the optimistic entry TempID as failed.
type SendFailed struct {
	TempID string
}

// Resend flips a failed entry back to pending before it is retried.
type Resend struct {
	TempID string
}

// FailPending marks every pending entry as failed. It is applied when the
// connection gives up reconnecting.
type FailPending struct{}

// HistorySync merges a history window fetched over REST.
type HistorySync struct {
	Messages []chat.Message
}

func (LocalSend) isEvent()       {}
func (ServerConfirm) isEvent()   {}
func (ServerBroadcast) isEvent() {}
func (ServerReaction) isEvent()  {}
func (SendFailed) isEvent()      {}
func (Resend) isEvent()          {}
func (FailPending) isEvent()     {}
func (HistorySync) isEvent()     {}

// Apply returns the state that results from applying ev to s.
func Apply(s State, ev Event) State {
	switch ev := ev.(type) {
	case LocalSend:
		return s.localSend(ev.Message)
	case ServerConfirm:
		return s.confirm(ev.Message)
	case ServerBroadcast:
		return s.confirm(ev.Message)
	case ServerReaction:
		return s.reaction(ev.Update)
	case SendFailed:
		return s.setStatus(ev.TempID, StatusPending, StatusFailed)
	case Resend:
		return s.setStatus(ev.TempID, StatusFailed, StatusPending)
	case FailPending:
		return s.failPending()
	case HistorySync:
		return s.historySync(ev.Messages)
	}
	return s
}

// Find returns the entry addressed by key, matching server ids first and
// temporary ids second.
func (s State) Find(key string) (Entry, bool) {
	if i := s.indexByID(key); i >= 0 {
		return s.Entries[i], true
	}
	if i := s.indexByTempID(key); i >= 0 {
		return s.Entries[i], true
	}
	return Entry{}, false
}

func (s State) indexByID(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.Entries, func(e Entry) bool { return e.Message.ID == id })
}

func (s State) indexByTempID(tempID string) int {
	if tempID == "" {
		return -1
	}
	return slices.IndexFunc(s.Entries, func(e Entry) bool { return e.TempID == tempID })
}

func (s State) localSend(msg chat.Message) State {
	if msg.TempID == "" || s.indexByTempID(msg.TempID) >= 0 {
		return s
	}

	msg.ID = ""
	msg.Reactions = []chat.Reaction{}

	entries := slices.Clone(s.Entries)
	entries = append(entries, Entry{Message: msg, TempID: msg.TempID, Status: StatusPending})
	return State{Entries: entries}
}

func (s State) confirm(msg chat.Message) State {
	entries := slices.Clone(s.Entries)
	confirmed := Entry{Message: msg, TempID: msg.TempID, Status: StatusSent}

	if i := s.indexByTempID(msg.TempID); i >= 0 {
		entries[i] = confirmed

		out := make([]Entry, 0, len(entries))
		for j, e := range entries {
			if j != i && msg.ID != "" && e.Message.ID == msg.ID {
				continue
			}
			out = append(out, e)
		}
		return State{Entries: out}
	}

	if i := s.indexByID(msg.ID); i >= 0 {
		confirmed.TempID = entries[i].TempID
		entries[i] = confirmed
		return State{Entries: entries}
	}

	return State{Entries: append(entries, confirmed)}
}

func (s State) reaction(u chat.ReactionUpdate) State {
	i := s.indexByID(u.MessageID)
	if i < 0 {
		return s
	}

	entries := slices.Clone(s.Entries)
	msg := entries[i].Message

	switch {
	case u.Reactions != nil:
		msg.Reactions = slices.Clone(u.Reactions)
	default:
		present := slices.ContainsFunc(msg.Reactions, func(r chat.Reaction) bool {
			return r.Emoji == u.Emoji && r.UserID == u.UserID
		})
		if present != u.Added {
			msg.Reactions, _ = chat.ToggleReaction(msg.Reactions, u.Emoji, u.UserID, msg.CreatedAt)
		}
	}

	entries[i].Message = msg
	return State{Entries: entries}
}

func (s State) setStatus(tempID string, from, to Status) State {
	i := s.indexByTempID(tempID)
	if i < 0 || s.Entries[i].Status != from {
		return s
	}

	entries := slices.Clone(s.Entries)
	entries[i].Status = to
	return State{Entries: entries}
}

func (s State) failPending() State {
	entries := slices.Clone(s.Entries)
	for i := range entries {
		if entries[i].Status == StatusPending {
			entries[i].Status = StatusFailed
		}
	}
	return State{Entries: entries}
}

func (s State) historySync(history []chat.Message) State {
	var confirmed, local []Entry
	for _, e := range s.Entries {
		if e.Message.ID != "" && e.Status == StatusSent {
			confirmed = append(confirmed, e)
		} else {
			local = append(local, e)
		}
	}

	for _, msg := range history {
		idx := slices.IndexFunc(confirmed, func(e Entry) bool { return e.Message.ID == msg.ID })
		if idx >= 0 {
			if t := confirmed[idx].TempID; t != "" {
				msg.TempID = t
			}
			confirmed[idx].Message = msg
			continue
		}

		// A stored message whose echo never arrived settles its local entry.
		if msg.TempID != "" {
			local = slices.DeleteFunc(local, func(e Entry) bool { return e.TempID == msg.TempID })
		}
		confirmed = append(confirmed, Entry{Message: msg, TempID: msg.TempID, Status: StatusSent})
	}

	slices.SortStableFunc(confirmed, func(a, b Entry) int {
		return chat.CompareMessages(a.Message, b.Message)
	})

	return State{Entries: append(confirmed, local...)}
}
