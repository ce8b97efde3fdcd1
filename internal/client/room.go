package client

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studysphere/internal/app/chat"
	"studysphere/internal/pkg/logx"
	"studysphere/internal/pkg/randx"
)

// RoomState is the lifecycle state of a RoomView.
type RoomState string

const (
	RoomDisconnected RoomState = "disconnected"
	RoomConnecting   RoomState = "connecting"
	RoomJoined       RoomState = "joined"
)

const (
	// DefaultPollInterval is the period of the history reconciliation.
	DefaultPollInterval = 5 * time.Second

	// DefaultTypingIdle is the inactivity after which typing=false is sent.
	DefaultTypingIdle = 2 * time.Second
)

var (
	ErrInvalidRoom     = errors.New("client: invalid room id")
	ErrEmptyMessage    = errors.New("client: message is empty")
	ErrMessageTooLong  = errors.New("client: message is too long")
	ErrInvalidEmoji    = errors.New("client: invalid emoji")
	ErrNotFailed       = errors.New("client: no failed message with that id")
	ErrViewClosed      = errors.New("client: room view is closed")
	ErrMessageNotFound = errors.New("client: unknown message")
)

// ViewOptions configures a RoomView. Zero durations select the defaults.
type ViewOptions struct {
	// UserID and Name identify the local user on optimistic entries.
	UserID string
	Name   string

	PollInterval time.Duration
	TypingIdle   time.Duration
	HistoryLimit int
}

// RoomView keeps the message list, typing set and presence of one room in
// sync with the server. The Conn may be shared by several views.
type RoomView struct {
	roomID string
	api    *API
	conn   *Conn
	opts   ViewOptions
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	roomState   RoomState
	typing      map[string]struct{}
	online      []string
	offs        []func()
	opened      bool
	closed      bool
	typingOn    bool
	typingTimer *time.Timer

	updates chan struct{}
}

// NewRoomView creates a view of roomID. Call Open to start it.
func NewRoomView(roomID string, api *API, conn *Conn, opts ViewOptions) *RoomView {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = chat.DefaultHistoryLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RoomView{
		roomID:    roomID,
		api:       api,
		conn:      conn,
		opts:      opts,
		logger:    logx.Component("room-view").With().Str("room_id", roomID).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		roomState: RoomDisconnected,
		typing:    make(map[string]struct{}),
		online:    []string{},
		updates:   make(chan struct{}, 1),
	}
}

// Open loads the history, subscribes to the room's events, connects and
// joins, then starts polling. Only ErrInvalidRoom and ErrUnauthorized are
// returned; other failures leave the view usable over REST.
func (v *RoomView) Open(ctx context.Context) error {
	if !randx.IsValidRoomKey(v.roomID) {
		return ErrInvalidRoom
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if v.opened {
		v.mu.Unlock()
		return nil
	}
	v.opened = true
	v.mu.Unlock()

	if err := v.sync(ctx); errors.Is(err, ErrUnauthorized) {
		return err
	}

	v.subscribe()

	wasConnected := v.conn.State() == StateConnected
	v.setRoomState(RoomConnecting)
	if err := v.conn.Connect(ctx); err != nil {
		v.setRoomState(RoomDisconnected)
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		v.logger.Warn().Err(err).Msg("Real-time connection unavailable, using REST")
	} else if wasConnected {
		v.join()
	}

	v.background(v.poll)
	return nil
}

// Close leaves the room, detaches every subscription, stops polling and
// cancels in-flight requests. The view cannot be reopened.
func (v *RoomView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	offs := v.offs
	v.offs = nil
	if v.typingTimer != nil {
		v.typingTimer.Stop()
	}
	v.roomState = RoomDisconnected
	v.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if v.conn.State() == StateConnected {
		if err := v.conn.Emit(chat.EventLeaveRoom, chat.RoomRef{RoomID: v.roomID}); err != nil {
			v.logger.Debug().Err(err).Msg("Leave not sent")
		}
	}

	v.cancel()
	v.wg.Wait()
	v.notify()
}

// Send adds an optimistic entry for text and delivers it. The returned temp
// id addresses the entry until the server confirms it.
func (v *RoomView) Send(text, replyTo string) (string, error) {
	text = strings.TrimSpace(text)
	switch {
	case v.roomID == "":
		return "", ErrInvalidRoom
	case text == "":
		return "", ErrEmptyMessage
	case len(text) > chat.MaxContentBytes:
		return "", ErrMessageTooLong
	}
	if v.isClosed() {
		return "", ErrViewClosed
	}

	tempID := randx.TempID()
	v.apply(LocalSend{Message: chat.Message{
		RoomID:     v.roomID,
		SenderID:   v.opts.UserID,
		SenderName: v.opts.Name,
		Text:       text,
		ReplyTo:    replyTo,
		CreatedAt:  time.Now().UTC(),
		TempID:     tempID,
	}})

	v.dispatch(tempID, text, replyTo)
	return tempID, nil
}

// Resend retries a failed entry.
func (v *RoomView) Resend(tempID string) error {
	v.mu.Lock()
	entry, ok := v.state.Find(tempID)
	v.mu.Unlock()
	if !ok || entry.Status != StatusFailed {
		return ErrNotFailed
	}

	v.apply(Resend{TempID: tempID})
	v.dispatch(tempID, entry.Message.Text, entry.Message.ReplyTo)
	return nil
}

func (v *RoomView) dispatch(tempID, text, replyTo string) {
	payload := chat.SendMessagePayload{
		RoomID:     v.roomID,
		Text:       text,
		ReplyTo:    replyTo,
		TempID:     tempID,
		SenderName: v.opts.Name,
	}

	if v.RoomState() == RoomJoined {
		err := v.conn.Emit(chat.EventSendMessage, payload)
		if err == nil {
			return
		}
		v.logger.Warn().Err(err).Str("temp_id", tempID).Msg("Socket send failed, falling back to REST")
	}

	v.background(func() {
		msg, err := v.api.PostMessage(v.ctx, payload)
		if err != nil {
			if v.ctx.Err() == nil {
				v.logger.Error().Err(err).Str("temp_id", tempID).Msg("Send failed")
			}
			v.apply(SendFailed{TempID: tempID})
			return
		}
		v.apply(ServerConfirm{Message: msg})
	})
}

// background runs fn on a goroutine tracked by Close. It is a no-op once the
// view is closed.
func (v *RoomView) background(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		fn()
	}()
}

// React toggles the local user's emoji on messageID.
func (v *RoomView) React(messageID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len([]rune(emoji)) > chat.MaxEmojiRunes {
		return ErrInvalidEmoji
	}
	if v.isClosed() {
		return ErrViewClosed
	}

	v.mu.Lock()
	_, ok := v.state.Find(messageID)
	v.mu.Unlock()
	if !ok || strings.HasPrefix(messageID, randx.TempIDPrefix) {
		return ErrMessageNotFound
	}

	if v.RoomState() == RoomJoined {
		err := v.conn.Emit(chat.EventMessageReaction, chat.ReactionPayload{
			MessageID: messageID,
			RoomID:    v.roomID,
			Emoji:     emoji,
		})
		if err == nil {
			return nil
		}
		v.logger.Warn().Err(err).Msg("Socket reaction failed, falling back to REST")
	}

	v.background(func() {
		update, err := v.api.React(v.ctx, v.roomID, messageID, emoji)
		if err != nil {
			if v.ctx.Err() == nil {
				v.logger.Error().Err(err).Str("message_id", messageID).Msg("Reaction failed")
			}
			return
		}
		v.apply(ServerReaction{Update: update})
	})
	return nil
}

// Typing reports local keyboard activity. typing=true goes out once per
// burst and typing=false after TypingIdle without further calls.
func (v *RoomView) Typing() {
	v.mu.Lock()
	if v.closed || v.roomState != RoomJoined {
		v.mu.Unlock()
		return
	}

	start := !v.typingOn
	v.typingOn = true
	if v.typingTimer == nil {
		v.typingTimer = time.AfterFunc(v.opts.TypingIdle, v.stopTyping)
	} else {
		v.typingTimer.Reset(v.opts.TypingIdle)
	}
	v.mu.Unlock()

	if start {
		v.emitTyping(true)
	}
}

func (v *RoomView) stopTyping() {
	v.mu.Lock()
	if v.closed || !v.typingOn {
		v.mu.Unlock()
		return
	}
	v.typingOn = false
	v.mu.Unlock()

	v.emitTyping(false)
}

func (v *RoomView) emitTyping(on bool) {
	err := v.conn.Emit(chat.EventTyping, chat.TypingPayload{RoomID: v.roomID, IsTyping: on})
	if err != nil {
		v.logger.Debug().Err(err).Bool("is_typing", on).Msg("Typing not sent")
	}
}

// Updates returns a channel that receives a value after state changes.
// Notifications are coalesced; read the snapshots after each one.
func (v *RoomView) Updates() <-chan struct{} {
	return v.updates
}

// Messages returns a snapshot of the message list.
func (v *RoomView) Messages() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.state.Entries)
}

// TypingUsers returns the ids of the other users currently typing, sorted.
func (v *RoomView) TypingUsers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]string, 0, len(v.typing))
	for id := range v.typing {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// OnlineUsers returns the room's online users as last reported by the server.
func (v *RoomView) OnlineUsers() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.online)
}

// RoomState returns the view's lifecycle state.
func (v *RoomView) RoomState() RoomState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.roomState
}

func (v *RoomView) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// apply runs the reducer unless the view is closed, so responses that land
// after Close are ignored.
func (v *RoomView) apply(ev Event) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.state = Apply(v.state, ev)
	v.mu.Unlock()

	v.notify()
}

func (v *RoomView) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}

func (v *RoomView) setRoomState(state RoomState) {
	v.mu.Lock()
	if v.closed || v.roomState == state {
		v.mu.Unlock()
		return
	}
	v.roomState = state
	v.mu.Unlock()

	v.logger.Debug().Str("state", string(state)).Msg("Room state changed")
	v.notify()
}

func (v *RoomView) join() {
	v.setRoomState(RoomConnecting)
	if err := v.conn.Emit(chat.EventJoinRoom, chat.RoomRef{RoomID: v.roomID}); err != nil {
		v.logger.Warn().Err(err).Msg("Join not sent")
		v.setRoomState(RoomDisconnected)
	}
}

// sync fetches the history window and merges it. A missing room yields an
// empty history.
func (v *RoomView) sync(ctx context.Context) error {
	msgs, err := v.api.History(ctx, v.roomID, v.opts.HistoryLimit)
	switch {
	case errors.Is(err, ErrRoomNotFound):
		msgs = nil
	case err != nil:
		if v.ctx.Err() == nil && ctx.Err() == nil {
			v.logger.Warn().Err(err).Msg("History sync failed")
		}
		return err
	}

	v.apply(HistorySync{Messages: msgs})
	return nil
}

func (v *RoomView) poll() {
	ticker := time.NewTicker(v.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			if err := v.sync(v.ctx); errors.Is(err, ErrUnauthorized) {
				return
			}
		}
	}
}

func (v *RoomView) subscribe() {
	offs := []func(){
		v.conn.OnStateChange(v.onConnState),
		v.conn.On(chat.EventRoomJoined, v.onRoomJoined),
		v.conn.On(chat.EventNewMessage, v.onNewMessage),
		v.conn.On(chat.EventNewReaction, v.onNewReaction),
		v.conn.On(chat.EventUserTyping, v.onUserTyping),
		v.conn.On(chat.EventUserJoined, v.onUserJoined),
		v.conn.On(chat.EventUserLeft, v.onUserLeft),
		v.conn.On(chat.EventError, v.onError),
	}

	v.mu.Lock()
	v.offs = append(v.offs, offs...)
	v.mu.Unlock()
}

func (v *RoomView) onConnState(state ConnState) {
	switch state {
	case StateConnected:
		v.join()
	case StateConnecting, StateReconnecting:
		v.setRoomState(RoomConnecting)
	case StateDisconnected:
		v.setRoomState(RoomDisconnected)
	case StateFailed:
		v.setRoomState(RoomDisconnected)
		v.apply(FailPending{})
	}
}

func decode[T any](v *RoomView, event string, data json.RawMessage) (T, bool) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		v.logger.Warn().Err(err).Str("event", event).Msg("Discarding malformed event")
		return out, false
	}
	return out, true
}

func (v *RoomView) onRoomJoined(data json.RawMessage) {
	p, ok := decode[chat.RoomJoinedPayload](v, chat.EventRoomJoined, data)
	if !ok || p.RoomID != v.roomID {
		return
	}

	v.mu.Lock()
	v.online = slices.Clone(p.OnlineUsers)
	if v.online == nil {
		v.online = []string{}
	}
	v.mu.Unlock()

	v.setRoomState(RoomJoined)
	v.notify()
}

func (v *RoomView) onNewMessage(data json.RawMessage) {
	msg, ok := decode[chat.Message](v, chat.EventNewMessage, data)
	if !ok || msg.RoomID != v.roomID {
		return
	}
	v.apply(ServerBroadcast{Message: msg})
}

func (v *RoomView) onNewReaction(data json.RawMessage) {
	u, ok := decode[chat.ReactionUpdate](v, chat.EventNewReaction, data)
	if !ok || u.RoomID != v.roomID {
		return
	}
	v.apply(ServerReaction{Update: u})
}

func (v *RoomView) onUserTyping(data json.RawMessage) {
	p, ok := decode[chat.UserTypingPayload](v, chat.EventUserTyping, data)
	if !ok || p.RoomID != v.roomID || p.UserID == v.opts.UserID {
		return
	}

	v.mu.Lock()
	if p.IsTyping {
		v.typing[p.UserID] = struct{}{}
	} else {
		delete(v.typing, p.UserID)
	}
	v.mu.Unlock()
	v.notify()
}

func (v *RoomView) onUserJoined(data json.RawMessage) {
	p, ok := decode[chat.PresencePayload](v, chat.EventUserJoined, data)
	if !ok || p.RoomID != v.roomID {
		return
	}

	v.mu.Lock()
	if !slices.Contains(v.online, p.UserID) {
		v.online = append(v.online, p.UserID)
		slices.Sort(v.online)
	}
	v.mu.Unlock()
	v.notify()
}

func (v *RoomView) onUserLeft(data json.RawMessage) {
	p, ok := decode[chat.PresencePayload](v, chat.EventUserLeft, data)
	if !ok || p.RoomID != v.roomID {
		return
	}

	v.mu.Lock()
	delete(v.typing, p.UserID)
	v.online = slices.DeleteFunc(v.online, func(id string) bool { return id == p.UserID })
	v.mu.Unlock()
	v.notify()
}

func (v *RoomView) onError(data json.RawMessage) {
	p, ok := decode[chat.ErrorPayload](v, chat.EventError, data)
	if !ok {
		return
	}
	if p.RoomID != "" && p.RoomID != v.roomID {
		return
	}

	v.logger.Warn().Int("code", p.Code).Str("event", p.Event).Str("temp_id", p.TempID).Msg(p.Message)

	switch {
	case p.TempID != "":
		v.apply(SendFailed{TempID: p.TempID})
	case p.Event == chat.EventJoinRoom && p.RoomID == v.roomID:
		v.setRoomState(RoomDisconnected)
	}
}
