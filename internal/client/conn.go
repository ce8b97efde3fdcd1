package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"studysphere/internal/app/chat"
	"studysphere/internal/pkg/logx"
)

// ConnState is the lifecycle state of a Conn.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

const (
	// DefaultReconnectAttempts bounds the reconnection attempts after a drop.
	DefaultReconnectAttempts = 5

	// DefaultReconnectDelay is the fixed delay between reconnection attempts.
	DefaultReconnectDelay = 2 * time.Second

	writeWait = 10 * time.Second
)

// ErrNotConnected is returned by Emit when there is no open connection.
var ErrNotConnected = errors.New("client: not connected")

// ConnOptions tunes a Conn. Zero values select the defaults.
type ConnOptions struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: RequestTimeout,
		}
	}
	return o
}

// Handler receives the data of one server event.
type Handler func(data json.RawMessage)

// Conn is one real-time connection to the chat server. Handlers registered
// with On survive reconnects. Handlers run on the connection's reader
// goroutine in frame order and must not block.
type Conn struct {
	url     string
	session *Session
	opts    ConnOptions
	logger  zerolog.Logger

	mu       sync.Mutex
	state    ConnState
	ws       *websocket.Conn
	nextID   int
	handlers map[string]map[int]Handler
	watchers map[int]func(ConnState)

	// loop lives from Connect until Disconnect or failure and parents every
	// dial. stop cancels it.
	loop context.Context
	stop context.CancelFunc

	writeMu sync.Mutex
}

// NewConn creates a disconnected Conn for the server at serverURL (the same
// base URL the API uses).
func NewConn(serverURL string, session *Session, opts ConnOptions) (*Conn, error) {
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	return &Conn{
		url:      wsURL,
		session:  session,
		opts:     opts.withDefaults(),
		logger:   logx.Component("ws-client"),
		state:    StateDisconnected,
		handlers: make(map[string]map[int]Handler),
		watchers: make(map[int]func(ConnState)),
	}, nil
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers h for event and returns a function that removes it.
func (c *Conn) On(event string, h Handler) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]Handler)
	}
	c.handlers[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnStateChange registers fn to run on every state transition and returns a
// function that removes it.
func (c *Conn) OnStateChange(fn func(ConnState)) (off func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.watchers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// Connect opens the connection, retrying with the configured fixed backoff.
// It returns immediately when already connected or connecting. A handshake
// rejected with 401 is terminal: the session is cleared and ErrUnauthorized
// returned.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	loopCtx, stop := context.WithCancel(context.Background())
	c.loop, c.stop = loopCtx, stop
	c.mu.Unlock()

	c.setState(StateConnecting)

	// The caller's ctx bounds the initial attempts only; the reconnect loop
	// lives until Disconnect.
	dialCtx, cancel := context.WithCancel(loopCtx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-dialCtx.Done():
		}
	}()

	if err := c.dialWithRetry(dialCtx); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Disconnect closes the connection and stops any reconnection. Registered
// handlers are kept.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		_ = ws.Close()
	}

	c.setState(StateDisconnected)
}

// Emit sends event with data on the open connection.
func (c *Conn) Emit(event string, data any) error {
	frame, err := chat.Encode(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (c *Conn) dialWithRetry(ctx context.Context) error {
	backoff := retry.NewConstant(c.opts.ReconnectDelay)
	backoff = retry.WithMaxRetries(uint64(c.opts.ReconnectAttempts-1), backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.dial(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrUnauthorized):
			return err
		default:
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Dial failed")
			return retry.RetryableError(err)
		}
	})
}

func (c *Conn) dial(ctx context.Context) error {
	token := c.session.Token()
	if token == "" {
		return ErrUnauthorized
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, res, err := c.opts.Dialer.DialContext(ctx, c.url, header)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			c.session.Clear()
			return ErrUnauthorized
		}
		return err
	}

	c.mu.Lock()
	if c.stop == nil {
		// Disconnect raced the handshake.
		c.mu.Unlock()
		_ = ws.Close()
		return context.Canceled
	}
	c.ws = ws
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readLoop(ws)
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.dropped(ws, err)
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed frame")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env chat.Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(env.Data)
	}
}

// dropped handles the end of ws's read loop. Connections replaced or closed
// by Disconnect end silently; anything else starts the reconnect loop.
func (c *Conn) dropped(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	loop := c.loop
	running := c.stop != nil
	c.mu.Unlock()
	_ = ws.Close()

	if !running {
		return
	}

	c.logger.Warn().Err(err).Msg("Connection lost, reconnecting")
	c.setState(StateReconnecting)

	go func() {
		if err := c.dialWithRetry(loop); err != nil {
			c.fail(err)
		}
	}()
}

// fail moves to the terminal failed state unless Disconnect was called
// meanwhile.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	stopped := c.stop == nil
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.mu.Unlock()

	if stopped {
		return
	}

	c.logger.Error().Err(err).Msg("Connection failed")
	c.setState(StateFailed)
}

func (c *Conn) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	watchers := make([]func(ConnState), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}
	c.mu.Unlock()

	c.logger.Debug().Str("state", string(state)).Msg("Connection state changed")
	for _, fn := range watchers {
		fn(state)
	}
}
