package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"studysphere/internal/pkg/logx"
)

// SubjectRoomPrefix is followed by the room id; room ids only use characters
// that are valid in a NATS subject token.
const SubjectRoomPrefix = "studysphere.chat.room."

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultNATSConfig returns the settings used when only a URL is configured.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "studysphere-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSBus is a Bus backed by NATS core pub/sub.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription

	logger zerolog.Logger
}

// NewNATSBus connects to NATS and returns a ready bus.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	logger := logx.Component("nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connected")

	return &NATSBus{conn: nc, logger: logger}, nil
}

// Publish sends d on the room's subject.
func (b *NATSBus) Publish(_ context.Context, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}

	if err := b.conn.Publish(SubjectRoomPrefix+d.RoomID, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", d.RoomID, err)
	}
	return nil
}

// Subscribe registers h for deliveries of every room.
func (b *NATSBus) Subscribe(h Handler) error {
	sub, err := b.conn.Subscribe(SubjectRoomPrefix+"*", func(msg *nats.Msg) {
		var d Delivery
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping malformed delivery")
			return
		}
		h(d)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close drains subscriptions and the connection.
func (b *NATSBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("NATS drain failed")
		}
	}
	b.subs = nil

	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("NATS connection drain failed")
	}
}
