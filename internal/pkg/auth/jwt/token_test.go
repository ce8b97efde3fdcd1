package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "unit-test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	tok, err := GenerateToken(&Payload{ID: "u1", Name: "Ada", UserType: "student"}, secret, time.Minute)
	require.NoError(t, err)

	got, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "Ada", got.User().Name)
	assert.Equal(t, TokenIssuer, got.Issuer)

	_, err = ParseToken(tok, "other-secret")
	assert.Error(t, err)
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := GenerateToken(&Payload{ID: "u1"}, secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	assert.Error(t, err)

	anonymous, err := GenerateToken(&Payload{}, secret, time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(anonymous, secret)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestPeekToken(t *testing.T) {
	tok, err := GenerateToken(&Payload{ID: "u7", Name: "Grace"}, secret, time.Minute)
	require.NoError(t, err)

	got, err := PeekToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u7", got.ID)
	assert.Equal(t, "Grace", got.Name)

	_, err = PeekToken("not.a.token")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "", BearerToken(r, false))
	assert.Equal(t, "from-query", BearerToken(r, true))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", BearerToken(r, true))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(r, true))
}

func TestRequireAuthMiddleware(t *testing.T) {
	var seen *Payload
	h := RequireAuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetPayloadFromContext(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	tok, err := GenerateToken(&Payload{ID: "u1"}, secret, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.ID)
}
