/*
Package messaging fans real-time frames out to every server instance that has
subscribers in a room.

LocalBus delivers in-process and is the default; NATSBus publishes on a NATS
subject per room so several instances behind a load balancer share rooms.
*/
package messaging

import (
	"context"
	"encoding/json"
	"sync"
)

// Delivery is one frame addressed to the subscribers of a room.
type Delivery struct {
	RoomID string `json:"roomId"`

	// Exclude is the connection id that must not receive the frame (the
	// originator of a typing or presence event), empty for everyone.
	Exclude string `json:"exclude,omitempty"`

	// Payload is the encoded envelope frame.
	Payload json.RawMessage `json:"payload"`
}

// Handler receives deliveries. It must not block.
type Handler func(Delivery)

// Bus publishes deliveries to all subscribed handlers, across instances for
// distributed implementations.
type Bus interface {
	Publish(ctx context.Context, d Delivery) error
	Subscribe(h Handler) error
	Close()
}

// LocalBus is an in-process Bus. Publish calls every handler synchronously, so
// deliveries from one publisher are observed in publish order.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Publish hands d to every subscribed handler.
func (b *LocalBus) Publish(_ context.Context, d Delivery) error {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(d)
	}
	return nil
}

// Subscribe registers h for all future deliveries.
func (b *LocalBus) Subscribe(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers[:len(b.handlers):len(b.handlers)], h)
	return nil
}

// Close drops all handlers.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = nil
}
