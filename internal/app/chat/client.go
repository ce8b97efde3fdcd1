/*
This file defines Client, one authenticated WebSocket connection. It runs the
read and write pumps, decodes client events and dispatches them to the Service.
*/
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"studysphere/internal/app/user"
	"studysphere/internal/metrics"
	"studysphere/internal/pkg/errs"
	"studysphere/internal/pkg/logx"
	"studysphere/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. A message
	// of MaxContentBytes escaped as \u00XX runes still fits with its envelope.
	maxMessageSize = 6*MaxContentBytes + 4096

	// capacity of the per-connection outbound queue.
	sendQueueSize = 256

	// upper bound of one event's service call.
	eventTimeout = 10 * time.Second
)

// Client is an active WebSocket connection and its authenticated user.
type Client struct {
	id   string
	user user.User

	// underlying WebSocket connection object.
	conn *websocket.Conn

	service *Service

	// a buffered channel of frames waiting to be written.
	send chan []byte

	// done is closed when the connection is torn down; send is never closed.
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewClient constructs a Client for an upgraded connection.
func NewClient(service *Service, wsConn *websocket.Conn, u user.User) *Client {
	id := randx.ConnectionID()

	return &Client{
		id:      id,
		user:    u,
		conn:    wsConn,
		service: service,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
		logger: logx.Logger().With().
			Str("conn_id", id).
			Str("user_id", u.ID).
			Logger(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user id.
func (c *Client) UserID() string { return c.user.ID }

// Send queues frame for the write pump. It never blocks; a full queue or a
// closed connection drops the frame.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		metrics.FramesDropped.Inc()
		return false
	}
}

// Serve runs both pumps and blocks until the connection is closed.
func (c *Client) Serve() {
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	c.logger.Info().Msg("Client connected.")

	go c.WritePump()
	c.ReadPump()
}

// ReadPump reads frames until the connection fails, then leaves every room.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.processInboundFrame(frame)
	}
}

// cleanupOnDisconnect leaves all rooms and closes the connection.
func (c *Client) cleanupOnDisconnect() {
	c.closeOnce.Do(func() { close(c.done) })

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	c.service.Disconnect(ctx, c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}

	c.logger.Info().Msg("Client disconnected.")
}

// processInboundFrame decodes one envelope and dispatches it.
func (c *Client) processInboundFrame(frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		c.logger.Warn().Err(err).Bytes("frame", frame).Msg("Client sent invalid envelope")
		c.SendError("", errs.NewError(errs.ErrInvalidJSONFormat), "", "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case EventJoinRoom:
		c.handleJoin(ctx, env.Data)

	case EventLeaveRoom:
		c.handleLeave(ctx, env.Data)

	case EventSendMessage:
		c.handleSendMessage(ctx, env.Data)

	case EventTyping:
		c.handleTyping(ctx, env.Data)

	case EventMessageReaction:
		c.handleReaction(ctx, env.Data)

	default:
		c.logger.Warn().Str("event", env.Event).Msg("Client sent unsupported event")
		c.SendError(env.Event, errs.NewError(errs.ErrUnsupportedEvent, env.Event), "", "")
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var ref RoomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		c.SendError(EventJoinRoom, errs.NewError(errs.ErrInvalidParams), "", "")
		return
	}

	if err := c.service.Join(ctx, c, ref.RoomID); err != nil {
		c.SendError(EventJoinRoom, err, ref.RoomID, "")
	}
}

func (c *Client) handleLeave(ctx context.Context, data json.RawMessage) {
	var ref RoomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		c.SendError(EventLeaveRoom, errs.NewError(errs.ErrInvalidParams), "", "")
		return
	}

	c.service.Leave(ctx, c, ref.RoomID)
}

func (c *Client) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var payload SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid send_message payload")
		c.SendError(EventSendMessage, errs.NewError(errs.ErrInvalidParams), "", "")
		return
	}

	_, err := c.service.PostMessage(ctx, PostInput{
		RoomID:  payload.RoomID,
		Sender:  payload.ResolveSender(c.user),
		Text:    payload.Body(),
		ReplyTo: payload.ReplyTo,
		TempID:  payload.TempID,
	})
	if err != nil {
		c.SendError(EventSendMessage, err, payload.RoomID, payload.TempID)
		return
	}

	metrics.MessagesTotal.WithLabelValues(metrics.SourceWS).Inc()
}

func (c *Client) handleTyping(ctx context.Context, data json.RawMessage) {
	var payload TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Debug().Err(err).Msg("Client sent invalid typing payload")
		return
	}

	c.service.Typing(ctx, c, payload.RoomID, payload.IsTyping)
}

func (c *Client) handleReaction(ctx context.Context, data json.RawMessage) {
	var payload ReactionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.SendError(EventMessageReaction, errs.NewError(errs.ErrInvalidParams), "", "")
		return
	}

	update, err := c.service.React(ctx, ReactInput{
		RoomID:    payload.RoomID,
		MessageID: payload.MessageID,
		Emoji:     payload.Emoji,
		UserID:    c.user.ID,
	})
	if err != nil {
		c.SendError(EventMessageReaction, err, payload.RoomID, "")
		return
	}

	metrics.ReactionsTotal.WithLabelValues(boolLabel(update.Added)).Inc()
}

// WritePump writes queued frames and heartbeats until the connection is torn down.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			c.write(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// write writes one frame with the write deadline. It reports false when the
// pump must stop.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing frame")
		return false
	}

	return true
}

// SendError queues an error event describing err in reply to event.
func (c *Client) SendError(event string, err *errs.CustomError, roomID, tempID string) {
	frame, encErr := Encode(EventError, ErrorPayload{
		Code:    err.Code,
		Message: err.Message,
		Event:   event,
		RoomID:  roomID,
		TempID:  tempID,
	})
	if encErr != nil {
		c.logger.Error().Err(encErr).Msg("Failed to build error event")
		return
	}

	c.Send(frame)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
