/*
Package client is the Go SDK of the StudySphere chat: a REST client, an
explicit real-time connection with bounded reconnection, and a per-room view
that keeps an optimistic message list consistent with the server.
*/
package client

import "sync"

// Session holds the bearer token shared by the REST client and the
// real-time connection. A cleared session is the logged-out state.
type Session struct {
	mu      sync.RWMutex
	token   string
	onClear []func()
}

// NewSession creates a session holding token.
func NewSession(token string) *Session {
	return &Session{token: token}
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the token, e.g. after logging in again.
func (s *Session) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// LoggedIn reports whether the session holds a token.
func (s *Session) LoggedIn() bool {
	return s.Token() != ""
}

// Clear drops the token and notifies OnClear callbacks. Clearing an empty
// session is a no-op.
func (s *Session) Clear() {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return
	}
	s.token = ""
	callbacks := append([]func(){}, s.onClear...)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// OnClear registers fn to run whenever the session is cleared.
func (s *Session) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}
