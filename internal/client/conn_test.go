package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysphere/internal/app/chat"
)

// wsServer accepts sockets carrying the expected bearer token and passes
// every frame to respond. Other paths answer with an empty success envelope.
// Kill drops every open socket.
type wsServer struct {
	*httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
}

type responder func(ws *websocket.Conn, mt int, frame []byte) error

func newWSServer(t *testing.T, token string, respond responder) *wsServer {
	t.Helper()

	s := &wsServer{}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/ws" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code":0,"message":"success","data":[]}`))
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, ws)
		s.mu.Unlock()

		for {
			mt, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := respond(ws, mt, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newEchoServer(t *testing.T, token string) *wsServer {
	return newWSServer(t, token, func(ws *websocket.Conn, mt int, frame []byte) error {
		return ws.WriteMessage(mt, frame)
	})
}

func (s *wsServer) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.conns {
		ws.Close()
	}
	s.conns = nil
}

func (s *wsServer) open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnState
}

func (r *stateRecorder) record(s ConnState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) seen() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnState(nil), r.states...)
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://chat.example.com/", "wss://chat.example.com/ws"},
		{"http://host/prefix", "ws://host/prefix/ws"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := websocketURL("ftp://host")
	assert.Error(t, err)
}

func TestConn_EmitAndOn(t *testing.T) {
	srv := newEchoServer(t, "tok")
	conn, err := NewConn(srv.URL, NewSession("tok"), ConnOptions{})
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)

	assert.ErrorIs(t, conn.Emit(chat.EventTyping, chat.TypingPayload{RoomID: "math"}), ErrNotConnected)

	got := make(chan chat.TypingPayload, 4)
	off := conn.On(chat.EventTyping, func(data json.RawMessage) {
		var p chat.TypingPayload
		if json.Unmarshal(data, &p) == nil {
			got <- p
		}
	})

	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, StateConnected, conn.State())
	require.NoError(t, conn.Connect(context.Background()), "connecting twice reuses the socket")

	require.NoError(t, conn.Emit(chat.EventTyping, chat.TypingPayload{RoomID: "math", IsTyping: true}))
	select {
	case p := <-got:
		assert.Equal(t, chat.TypingPayload{RoomID: "math", IsTyping: true}, p)
	case <-time.After(waitFor):
		t.Fatal("echo not received")
	}

	off()
	require.NoError(t, conn.Emit(chat.EventTyping, chat.TypingPayload{RoomID: "math"}))
	select {
	case p := <-got:
		t.Fatalf("handler called after off: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}

	conn.Disconnect()
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_ReconnectsAfterDrop(t *testing.T) {
	srv := newEchoServer(t, "tok")
	conn, err := NewConn(srv.URL, NewSession("tok"), ConnOptions{ReconnectDelay: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)

	rec := &stateRecorder{}
	conn.OnStateChange(rec.record)

	require.NoError(t, conn.Connect(context.Background()))
	srv.kill()

	require.Eventually(t, func() bool {
		states := rec.seen()
		return len(states) >= 4 && states[len(states)-1] == StateConnected
	}, waitFor, tick)
	assert.Equal(t, []ConnState{StateConnecting, StateConnected, StateReconnecting, StateConnected}, rec.seen())
}

func TestConn_ReconnectsShareOneLoop(t *testing.T) {
	srv := newEchoServer(t, "tok")
	conn, err := NewConn(srv.URL, NewSession("tok"), ConnOptions{ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)

	require.NoError(t, conn.Connect(context.Background()))
	conn.mu.Lock()
	loop := conn.loop
	conn.mu.Unlock()

	for range 3 {
		rec := &stateRecorder{}
		off := conn.OnStateChange(rec.record)
		require.Eventually(t, func() bool { return srv.open() == 1 }, waitFor, tick)
		srv.kill()
		require.Eventually(t, func() bool {
			states := rec.seen()
			return len(states) >= 2 && states[len(states)-1] == StateConnected
		}, waitFor, tick)
		off()

		conn.mu.Lock()
		assert.True(t, loop == conn.loop, "reconnects dial under the Connect loop")
		conn.mu.Unlock()
	}

	conn.Disconnect()
	assert.ErrorIs(t, loop.Err(), context.Canceled)
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestConn_FailsAfterBoundedAttempts(t *testing.T) {
	srv := newEchoServer(t, "tok")
	conn, err := NewConn(srv.URL, NewSession("tok"), ConnOptions{ReconnectAttempts: 3, ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)

	require.NoError(t, conn.Connect(context.Background()))

	srv.Close()
	srv.kill()

	require.Eventually(t, func() bool { return conn.State() == StateFailed }, waitFor, tick)
}

func TestConn_HandshakeRejectionIsTerminal(t *testing.T) {
	srv := newEchoServer(t, "tok")
	session := NewSession("wrong")

	cleared := make(chan struct{}, 1)
	session.OnClear(func() { cleared <- struct{}{} })

	conn, err := NewConn(srv.URL, session, ConnOptions{ReconnectDelay: time.Hour})
	require.NoError(t, err)

	err = conn.Connect(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StateFailed, conn.State())
	assert.False(t, session.LoggedIn())

	select {
	case <-cleared:
	default:
		t.Fatal("OnClear not called")
	}
}
