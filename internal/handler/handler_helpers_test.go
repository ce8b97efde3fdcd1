package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"studysphere/internal/app/chat"
	"studysphere/internal/app/messaging"
	"studysphere/internal/app/presence"
	"studysphere/internal/configs"
	"studysphere/internal/pkg/auth/jwt"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	svc *chat.Service
}

func newTestServer(t *testing.T) *testServer {
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

	srv := httptest.NewServer(Router(&AppDeps{Service: svc, Config: cfg}))
	t.Cleanup(func() {
		srv.Close()
		manager.Shutdown()
	})

	return &testServer{Server: srv, svc: svc}
}

func token(t *testing.T, id, name string) string {
	t.Helper()

	tok, err := jwt.GenerateToken(&jwt.Payload{ID: id, Name: name}, testSecret, jwt.UserIdentityExpiration)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do performs a request and decodes the response envelope.
func (s *testServer) do(t *testing.T, method, path, tok string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}
