/*
Package chat contains the core logic of the chat subsystem: persisted rooms and
messages, the live room hubs that fan frames out to WebSocket connections, and
the service that mediates between REST and the real-time channel.

This file defines Room, the live hub of a single chat room. It owns the set of
local subscribers, serialises fan-out to them, and shuts down after a period
of inactivity.
*/
package chat

import (
	"time"

	"github.com/rs/zerolog"

	"studysphere/internal/metrics"
	"studysphere/internal/pkg/logx"
)

const broadcastChannelBuffer = 1024

// RoomInactivityTimeout is the duration after which an empty room hub shuts down.
const RoomInactivityTimeout = 5 * time.Minute

// Subscriber is a live connection that can be subscribed to room hubs.
type Subscriber interface {
	// ID identifies the connection; it is unique across server instances.
	ID() string

	// UserID is the authenticated user behind the connection.
	UserID() string

	// Send queues frame for delivery without blocking. It reports false when
	// the frame was dropped.
	Send(frame []byte) bool
}

// outbound is a frame waiting to be fanned out by a room.
type outbound struct {
	payload []byte

	// exclude is a connection id that must not receive the frame.
	exclude string
}

// Room is the live hub of one chat room on this server instance.
type Room struct {
	// ID is the room key.
	ID string

	// subscribers holds the local connections subscribed to the room, keyed by connection id.
	// Only the Run goroutine touches it.
	subscribers map[string]Subscriber

	// a buffered channel of frames to fan out.
	broadcast chan outbound

	// channels for connections joining and leaving the room.
	register   chan Subscriber
	unregister chan Subscriber

	// a write-only channel used to notify the Manager that this room stopped.
	cleanupChan chan<- *Room

	// stopChan signals the Run loop to exit; done is closed once it has.
	stopChan chan struct{}
	done     chan struct{}

	timeout time.Duration

	logger zerolog.Logger
}

// NewRoom creates a room hub. Run must be started by the caller.
func NewRoom(roomID string, timeout time.Duration, cleanupChan chan<- *Room) *Room {
	return &Room{
		ID:          roomID,
		subscribers: make(map[string]Subscriber),
		broadcast:   make(chan outbound, broadcastChannelBuffer),
		register:    make(chan Subscriber),
		unregister:  make(chan Subscriber),
		cleanupChan: cleanupChan,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
		timeout:     timeout,
		logger:      logx.Logger().With().Str("room_id", roomID).Logger(),
	}
}

// Stop signals the Run loop to terminate.
func (r *Room) Stop() {
	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
}

// Done is closed once the Run loop has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// join hands sub to the Run loop. It reports false if the room has already
// stopped, in which case the caller must use a fresh room.
func (r *Room) join(sub Subscriber) bool {
	select {
	case r.register <- sub:
		return true
	case <-r.done:
		return false
	}
}

// leave removes sub from the room. It is a no-op on a stopped room.
func (r *Room) leave(sub Subscriber) {
	select {
	case r.unregister <- sub:
	case <-r.done:
	}
}

// enqueue queues a frame for fan-out without blocking.
func (r *Room) enqueue(msg outbound) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.broadcast <- msg:
		return true
	default:
		r.logger.Warn().Msg("Broadcast channel full. Dropping frame.")
		metrics.FramesDropped.Inc()
		return false
	}
}

// Run is the event loop of the room.
func (r *Room) Run() {
	metrics.RoomsLive.Inc()

	shutdownTimer := time.NewTimer(r.timeout)

	defer func() {
		shutdownTimer.Stop()
		metrics.RoomsLive.Dec()

		select {
		case r.cleanupChan <- r:
		default:
			r.logger.Warn().Msg("Manager cleanup channel full. Skipping cleanup notification.")
		}

		close(r.done)
		r.logger.Info().Msg("Room Run loop finished.")
	}()

	for {
		select {
		case sub := <-r.register:
			stopTimer(shutdownTimer)

			r.subscribers[sub.ID()] = sub
			r.logger.Debug().
				Str("conn_id", sub.ID()).
				Str("user_id", sub.UserID()).
				Int("subscribers", len(r.subscribers)).
				Msg("Connection subscribed.")

		case sub := <-r.unregister:
			if _, ok := r.subscribers[sub.ID()]; !ok {
				continue
			}
			delete(r.subscribers, sub.ID())

			r.logger.Debug().
				Str("conn_id", sub.ID()).
				Int("subscribers", len(r.subscribers)).
				Msg("Connection unsubscribed.")

			if len(r.subscribers) == 0 {
				stopTimer(shutdownTimer)
				shutdownTimer.Reset(r.timeout)
			}

		case msg := <-r.broadcast:
			start := time.Now()

			for id, sub := range r.subscribers {
				if id == msg.exclude {
					continue
				}
				if !sub.Send(msg.payload) {
					r.logger.Warn().
						Str("conn_id", id).
						Msg("Subscriber send queue full. Frame dropped.")
					metrics.FramesDropped.Inc()
				}
			}

			metrics.BroadcastLatency.Observe(time.Since(start).Seconds())

		case <-shutdownTimer.C:
			if len(r.subscribers) > 0 {
				continue
			}
			r.logger.Info().Dur("timeout", r.timeout).Msg("Room inactivity timeout reached.")
			return

		case <-r.stopChan:
			r.logger.Info().Msg("Room forced stop initiated.")
			return
		}
	}
}

// stopTimer stops t and drains a pending tick.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
