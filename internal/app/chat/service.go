/*
This file defines Service, the mediator between the REST API and the
real-time channel. Every mutation is validated and persisted here first and
only then fanned out to room subscribers.
*/
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"studysphere/internal/app/presence"
	"studysphere/internal/app/user"
	"studysphere/internal/pkg/errs"
	"studysphere/internal/pkg/logx"
	"studysphere/internal/pkg/randx"
)

// Hub is the real-time fan-out collaborator of the service. Manager implements it.
type Hub interface {
	Subscribe(sub Subscriber, roomID string) (bool, error)
	Unsubscribe(sub Subscriber, roomID string) bool
	Rooms(connID string) []string
	IsSubscribed(connID, roomID string) bool
	Publish(ctx context.Context, roomID string, frame []byte, exclude string) error
}

// DefaultRooms are created at startup when absent.
var DefaultRooms = []ChatRoom{
	{ID: "general", Name: "General", Description: "Talk about anything with fellow students.", Color: "#6366f1", Icon: "chat"},
	{ID: "math", Name: "Mathematics", Description: "Proofs, problem sets and exam prep.", Color: "#0ea5e9", Icon: "calculator"},
	{ID: "science", Name: "Science", Description: "Physics, chemistry, biology and lab work.", Color: "#10b981", Icon: "flask"},
	{ID: "design", Name: "Design", Description: "Critique, tools and portfolio reviews.", Color: "#f59e0b", Icon: "palette"},
}

// PostInput describes a message to post.
type PostInput struct {
	RoomID  string
	Sender  user.Sender
	Text    string
	ReplyTo string

	// TempID is the client's optimistic id, echoed on the broadcast.
	TempID string
}

// ReactInput describes a reaction toggle.
type ReactInput struct {
	RoomID    string
	MessageID string
	Emoji     string
	UserID    string
}

// Service implements the chat operations shared by REST handlers and WebSocket clients.
type Service struct {
	repo     Repository
	hub      Hub
	presence presence.Tracker

	now    func() time.Time
	logger zerolog.Logger
}

// NewService wires a Service.
func NewService(repo Repository, hub Hub, tracker presence.Tracker) *Service {
	return &Service{
		repo:     repo,
		hub:      hub,
		presence: tracker,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logx.Component("chat_service"),
	}
}

// storageError maps a repository error onto an application error.
func storageError(err error, notFound int) *errs.CustomError {
	switch {
	case errors.Is(err, ErrNotFound):
		return errs.NewError(notFound)
	case errors.Is(err, ErrRoomExists):
		return errs.NewError(errs.ErrRoomKeyExists)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errs.NewError(errs.ErrUnknown, err)
	}
	return errs.NewError(errs.ErrStorageFailed, err)
}

// SeedDefaultRooms creates DefaultRooms that do not exist yet.
func (s *Service) SeedDefaultRooms(ctx context.Context) error {
	for _, room := range DefaultRooms {
		room.CreatedBy = "system"
		if _, err := s.repo.CreateRoom(ctx, room); err != nil {
			if errors.Is(err, ErrRoomExists) {
				continue
			}
			return err
		}
		s.logger.Info().Str("room_id", room.ID).Msg("Seeded default room.")
	}
	return nil
}

// GetRoom returns the persisted room.
func (s *Service) GetRoom(ctx context.Context, roomID string) (ChatRoom, *errs.CustomError) {
	if !randx.IsValidRoomKey(roomID) {
		return ChatRoom{}, errs.NewError(errs.ErrRoomKeyInvalid)
	}

	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return ChatRoom{}, storageError(err, errs.ErrRoomNotFound)
	}
	return room, nil
}

// ListRooms returns every room.
func (s *Service) ListRooms(ctx context.Context) ([]ChatRoom, *errs.CustomError) {
	rooms, err := s.repo.ListRooms(ctx)
	if err != nil {
		return nil, storageError(err, errs.ErrRoomNotFound)
	}
	return rooms, nil
}

// CreateRoom validates and persists a new room created by creatorID.
func (s *Service) CreateRoom(ctx context.Context, room ChatRoom, creatorID string) (ChatRoom, *errs.CustomError) {
	if !randx.IsValidRoomKey(room.ID) {
		return ChatRoom{}, errs.NewError(errs.ErrRoomKeyInvalid)
	}

	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" || utf8.RuneCountInString(room.Name) > MaxRoomNameRunes {
		return ChatRoom{}, errs.NewError(errs.ErrRoomNameInvalid)
	}

	room.Description = strings.TrimSpace(room.Description)
	room.CreatedBy = creatorID
	room.CreatedAt = time.Time{}
	room.Members = []string{creatorID}

	created, err := s.repo.CreateRoom(ctx, room)
	if err != nil {
		return ChatRoom{}, storageError(err, errs.ErrRoomNotFound)
	}

	s.logger.Info().Str("room_id", created.ID).Str("created_by", creatorID).Msg("Room created.")
	return created, nil
}

// AddMember records userID as a member of roomID.
func (s *Service) AddMember(ctx context.Context, roomID, userID string) (ChatRoom, *errs.CustomError) {
	if !randx.IsValidRoomKey(roomID) {
		return ChatRoom{}, errs.NewError(errs.ErrRoomKeyInvalid)
	}

	if err := s.repo.AddMember(ctx, roomID, userID); err != nil {
		return ChatRoom{}, storageError(err, errs.ErrRoomNotFound)
	}
	return s.GetRoom(ctx, roomID)
}

// RemoveMember drops userID from the members of roomID.
func (s *Service) RemoveMember(ctx context.Context, roomID, userID string) (ChatRoom, *errs.CustomError) {
	if !randx.IsValidRoomKey(roomID) {
		return ChatRoom{}, errs.NewError(errs.ErrRoomKeyInvalid)
	}

	if err := s.repo.RemoveMember(ctx, roomID, userID); err != nil {
		return ChatRoom{}, storageError(err, errs.ErrRoomNotFound)
	}
	return s.GetRoom(ctx, roomID)
}

// GetHistory returns the window of roomID selected by q, oldest first.
func (s *Service) GetHistory(ctx context.Context, roomID string, q HistoryQuery) ([]Message, *errs.CustomError) {
	if !randx.IsValidRoomKey(roomID) {
		return nil, errs.NewError(errs.ErrRoomKeyInvalid)
	}

	msgs, err := s.repo.ListMessages(ctx, roomID, q)
	if err != nil {
		return nil, storageError(err, errs.ErrRoomNotFound)
	}
	return msgs, nil
}

// PostMessage validates, persists and broadcasts a message. The stored
// message keeps in.TempID.
func (s *Service) PostMessage(ctx context.Context, in PostInput) (Message, *errs.CustomError) {
	if !randx.IsValidRoomKey(in.RoomID) {
		return Message{}, errs.NewError(errs.ErrRoomKeyInvalid)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Message{}, errs.NewError(errs.ErrMessageEmpty)
	}
	if len(text) > MaxContentBytes {
		return Message{}, errs.NewError(errs.ErrMessageContentTooLong)
	}

	if _, err := s.repo.GetRoom(ctx, in.RoomID); err != nil {
		return Message{}, storageError(err, errs.ErrRoomNotFound)
	}

	if in.ReplyTo != "" {
		if !randx.IsValidMessageID(in.ReplyTo) {
			return Message{}, errs.NewError(errs.ErrReplyTargetInvalid)
		}
		target, err := s.repo.GetMessage(ctx, in.ReplyTo)
		if err != nil {
			return Message{}, storageError(err, errs.ErrReplyTargetInvalid)
		}
		if target.RoomID != in.RoomID {
			return Message{}, errs.NewError(errs.ErrReplyTargetInvalid)
		}
	}

	msg := Message{
		RoomID:   in.RoomID,
		SenderID: in.Sender.ID,
		Text:     text,
		ReplyTo:  in.ReplyTo,
		TempID:   in.TempID,
	}
	msg.SenderName = in.Sender.DisplayName()
	if in.Sender.Kind == user.KindProfile {
		msg.SenderEmail = in.Sender.Email
	}

	stored, err := s.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, storageError(err, errs.ErrRoomNotFound)
	}

	s.publish(ctx, stored.RoomID, EventNewMessage, stored, "")

	s.logger.Debug().
		Str("room_id", stored.RoomID).
		Str("message_id", stored.ID).
		Str("sender_id", stored.SenderID).
		Msg("Message posted.")

	return stored, nil
}

// React toggles a reaction and broadcasts the update.
func (s *Service) React(ctx context.Context, in ReactInput) (ReactionUpdate, *errs.CustomError) {
	emoji := strings.TrimSpace(in.Emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxEmojiRunes {
		return ReactionUpdate{}, errs.NewError(errs.ErrEmojiInvalid)
	}
	if !randx.IsValidMessageID(in.MessageID) {
		return ReactionUpdate{}, errs.NewError(errs.ErrMessageNotFound)
	}

	msg, err := s.repo.GetMessage(ctx, in.MessageID)
	if err != nil {
		return ReactionUpdate{}, storageError(err, errs.ErrMessageNotFound)
	}

	// an empty room id means "wherever the message lives"
	if in.RoomID != "" && msg.RoomID != in.RoomID {
		return ReactionUpdate{}, errs.NewError(errs.ErrMessageNotFound)
	}

	added, reactions, err := s.repo.ToggleReaction(ctx, msg.ID, in.UserID, emoji)
	if err != nil {
		return ReactionUpdate{}, storageError(err, errs.ErrMessageNotFound)
	}

	update := ReactionUpdate{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		Emoji:     emoji,
		UserID:    in.UserID,
		Added:     added,
		Reactions: reactions,
	}

	s.publish(ctx, msg.RoomID, EventNewReaction, update, "")
	return update, nil
}

// Join subscribes sub to roomID and acknowledges with the room's online users.
// user_joined goes out only when this is the user's first connection in the
// room. A repeated join only repeats the acknowledgement.
func (s *Service) Join(ctx context.Context, sub Subscriber, roomID string) *errs.CustomError {
	if !randx.IsValidRoomKey(roomID) {
		return errs.NewError(errs.ErrRoomKeyInvalid)
	}

	if err := s.repo.AddMember(ctx, roomID, sub.UserID()); err != nil {
		return storageError(err, errs.ErrRoomNotFound)
	}

	first, err := s.hub.Subscribe(sub, roomID)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	if first {
		count, err := s.presence.Add(ctx, roomID, sub.UserID())
		if err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to record presence.")
		}

		if count <= 1 {
			s.publish(ctx, roomID, EventUserJoined, PresencePayload{
				UserID:    sub.UserID(),
				RoomID:    roomID,
				Timestamp: s.now(),
			}, sub.ID())
		}
	}

	online, err := s.presence.Online(ctx, roomID)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to read presence.")
		online = []string{sub.UserID()}
	}

	s.sendTo(sub, EventRoomJoined, RoomJoinedPayload{RoomID: roomID, OnlineUsers: online})
	return nil
}

// Leave unsubscribes sub from roomID. user_left goes out once the user's last
// connection in the room is gone. Leaving a room that was not joined does
// nothing.
func (s *Service) Leave(ctx context.Context, sub Subscriber, roomID string) {
	if !s.hub.Unsubscribe(sub, roomID) {
		return
	}

	remaining, err := s.presence.Remove(ctx, roomID, sub.UserID())
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to clear presence.")
	}
	if remaining > 0 {
		return
	}

	s.publish(ctx, roomID, EventUserLeft, PresencePayload{
		UserID:    sub.UserID(),
		RoomID:    roomID,
		Timestamp: s.now(),
	}, sub.ID())
}

// Disconnect leaves every room joined by sub.
func (s *Service) Disconnect(ctx context.Context, sub Subscriber) {
	for _, roomID := range s.hub.Rooms(sub.ID()) {
		s.Leave(ctx, sub, roomID)
	}
}

// Typing relays a typing indicator to the other subscribers of roomID.
// Indicators for rooms sub has not joined are ignored.
func (s *Service) Typing(ctx context.Context, sub Subscriber, roomID string, isTyping bool) {
	if !s.hub.IsSubscribed(sub.ID(), roomID) {
		return
	}

	s.publish(ctx, roomID, EventUserTyping, UserTypingPayload{
		UserID:   sub.UserID(),
		RoomID:   roomID,
		IsTyping: isTyping,
	}, sub.ID())
}

// publish encodes and fans out an event. Fan-out is best-effort: failures are logged.
func (s *Service) publish(ctx context.Context, roomID, event string, data any, exclude string) {
	frame, err := Encode(event, data)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event.")
		return
	}

	if err := s.hub.Publish(ctx, roomID, frame, exclude); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Str("room_id", roomID).Msg("Failed to publish event.")
	}
}

// sendTo encodes an event and queues it on a single connection.
func (s *Service) sendTo(sub Subscriber, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event.")
		return
	}

	if !sub.Send(frame) {
		s.logger.Warn().Str("conn_id", sub.ID()).Str("event", event).Msg("Connection queue full. Frame dropped.")
	}
}
