package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studysphere/internal/app/chat"
	"studysphere/internal/app/messaging"
	"studysphere/internal/app/presence"
	"studysphere/internal/configs"
	"studysphere/internal/handler"
	"studysphere/internal/pkg/auth/jwt"
)

const (
	testSecret = "client-test-secret"
	waitFor    = 3 * time.Second
	tick       = 10 * time.Millisecond
)

// newChatServer starts the real HTTP surface backed by in-memory stores.
func newChatServer(t *testing.T) *httptest.Server {
	t.Helper()

	manager, err := chat.NewManager(messaging.NewLocalBus())
	require.NoError(t, err)

	svc := chat.NewService(chat.NewMemoryRepository(), manager, presence.NewMemoryTracker())
	require.NoError(t, svc.SeedDefaultRooms(context.Background()))

	cfg := &configs.AppConfig{
		Environment: configs.EnvDevelopment,
		JWTSecret:   testSecret,
		RateLimit:   1000,
		RateBurst:   1000,
	}

	srv := httptest.NewServer(handler.Router(&handler.AppDeps{Service: svc, Config: cfg}))
	t.Cleanup(func() {
		srv.Close()
		manager.Shutdown()
	})
	return srv
}

func testToken(t *testing.T, id, name string) string {
	t.Helper()

	tok, err := jwt.GenerateToken(&jwt.Payload{ID: id, Name: name}, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

type testUser struct {
	session *Session
	api     *API
	conn    *Conn
}

func newTestUser(t *testing.T, serverURL, id, name string) *testUser {
	t.Helper()

	session := NewSession(testToken(t, id, name))
	conn, err := NewConn(serverURL, session, ConnOptions{ReconnectAttempts: 2, ReconnectDelay: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(conn.Disconnect)

	return &testUser{session: session, api: NewAPI(serverURL, session), conn: conn}
}

func (u *testUser) open(t *testing.T, roomID, id, name string) *RoomView {
	t.Helper()

	view := NewRoomView(roomID, u.api, u.conn, ViewOptions{
		UserID:       id,
		Name:         name,
		PollInterval: 50 * time.Millisecond,
		TypingIdle:   100 * time.Millisecond,
	})
	require.NoError(t, view.Open(context.Background()))
	t.Cleanup(view.Close)
	return view
}

func waitJoined(t *testing.T, v *RoomView) {
	t.Helper()
	require.Eventually(t, func() bool { return v.RoomState() == RoomJoined }, waitFor, tick)
}
