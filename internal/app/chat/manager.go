/*
This file defines Manager, the coordinator of the live room hubs on one server
instance. It creates hubs on demand, tracks which rooms each connection has
joined, and bridges the messaging bus to the local hubs.
*/
package chat

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studysphere/internal/app/messaging"
	"studysphere/internal/metrics"
	"studysphere/internal/pkg/logx"
)

// ErrHubClosed is returned when subscribing after Shutdown.
var ErrHubClosed = errors.New("chat: hub is shut down")

// Manager coordinates all live room hubs and the subscriptions of connections.
type Manager struct {
	// rooms stores the live hubs keyed by room id.
	rooms map[string]*Room

	// subs tracks, per connection id, the set of joined room ids.
	subs map[string]map[string]struct{}

	// bus fans frames out to every instance, including this one.
	bus messaging.Bus

	// roomTimeout is passed to new hubs.
	roomTimeout time.Duration

	closed bool

	// mu protects rooms, subs and closed.
	mu sync.RWMutex

	// the channel used by Rooms to notify the Manager that they stopped.
	cleanup chan *Room

	// wg is used to wait for the runCleanupLoop goroutine to finish during shutdown.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewManager constructs a Manager publishing through bus and subscribes it to
// the bus for delivery to local hubs.
func NewManager(bus messaging.Bus) (*Manager, error) {
	m := &Manager{
		rooms:       make(map[string]*Room),
		subs:        make(map[string]map[string]struct{}),
		bus:         bus,
		roomTimeout: RoomInactivityTimeout,
		cleanup:     make(chan *Room, 64),
		logger:      logx.Component("manager"),
	}

	if err := bus.Subscribe(m.deliver); err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go m.runCleanupLoop()

	return m, nil
}

// runCleanupLoop removes stopped rooms from the map.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	for room := range m.cleanup {
		m.deleteRoom(room)
	}
}

// deleteRoom removes room from the map if it is still the registered hub for its id.
func (m *Manager) deleteRoom(room *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.rooms[room.ID]; ok && current == room {
		delete(m.rooms, room.ID)
		m.logger.Info().Str("room_id", room.ID).Msg("Room hub removed.")
	}
}

// getOrCreateRoom returns the live hub for roomID, starting one if needed.
func (m *Manager) getOrCreateRoom(roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrHubClosed
	}

	if room, ok := m.rooms[roomID]; ok {
		return room, nil
	}

	room := NewRoom(roomID, m.roomTimeout, m.cleanup)
	m.rooms[roomID] = room
	go room.Run()

	m.logger.Info().Str("room_id", roomID).Msg("Room hub started.")
	return room, nil
}

// getRoom returns the live hub for roomID or nil.
func (m *Manager) getRoom(roomID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.rooms[roomID]
}

// Subscribe adds sub to roomID. It reports false, doing nothing, when the
// connection has already joined the room.
func (m *Manager) Subscribe(sub Subscriber, roomID string) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, ErrHubClosed
	}
	joined, ok := m.subs[sub.ID()]
	if !ok {
		joined = make(map[string]struct{})
		m.subs[sub.ID()] = joined
	}
	if _, ok := joined[roomID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	joined[roomID] = struct{}{}
	m.mu.Unlock()

	for {
		room, err := m.getOrCreateRoom(roomID)
		if err != nil {
			m.forget(sub.ID(), roomID)
			return false, err
		}
		if room.join(sub) {
			break
		}
		// the hub stopped between lookup and join
		m.deleteRoom(room)
	}

	metrics.RoomSubscriptions.Inc()
	return true, nil
}

// Unsubscribe removes sub from roomID. It reports false when the connection
// had not joined the room.
func (m *Manager) Unsubscribe(sub Subscriber, roomID string) bool {
	if !m.forget(sub.ID(), roomID) {
		return false
	}

	if room := m.getRoom(roomID); room != nil {
		room.leave(sub)
	}

	metrics.RoomSubscriptions.Dec()
	return true
}

// forget drops roomID from the membership of connID.
func (m *Manager) forget(connID, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	joined, ok := m.subs[connID]
	if !ok {
		return false
	}
	if _, ok := joined[roomID]; !ok {
		return false
	}

	delete(joined, roomID)
	if len(joined) == 0 {
		delete(m.subs, connID)
	}
	return true
}

// Rooms returns the rooms joined by connID, sorted.
func (m *Manager) Rooms(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.subs[connID]))
	for roomID := range m.subs[connID] {
		out = append(out, roomID)
	}
	slices.Sort(out)
	return out
}

// IsSubscribed reports whether connID has joined roomID.
func (m *Manager) IsSubscribed(connID, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.subs[connID][roomID]
	return ok
}

// Publish fans frame out to every subscriber of roomID on every instance,
// except the connection exclude.
func (m *Manager) Publish(ctx context.Context, roomID string, frame []byte, exclude string) error {
	return m.bus.Publish(ctx, messaging.Delivery{
		RoomID:  roomID,
		Exclude: exclude,
		Payload: frame,
	})
}

// deliver is the bus handler: it hands a delivery to the local hub, if any.
func (m *Manager) deliver(d messaging.Delivery) {
	room := m.getRoom(d.RoomID)
	if room == nil {
		return
	}
	room.enqueue(outbound{payload: d.Payload, exclude: d.Exclude})
}

// Shutdown stops every hub and the cleanup loop. Later subscriptions fail with ErrHubClosed.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager...")

	m.mu.Lock()
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		room.Stop()
		<-room.Done()
	}

	close(m.cleanup)
	m.wg.Wait()

	m.mu.Lock()
	m.rooms = make(map[string]*Room)
	m.subs = make(map[string]map[string]struct{})
	m.mu.Unlock()

	m.logger.Info().Msg("Manager shutdown complete.")
}
