package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studysphere/internal/app/messaging"
	"studysphere/internal/app/presence"
)

type fakeSub struct {
	id     string
	user   string
	frames chan []byte
}

func newFakeSub(id, userID string) *fakeSub {
	return &fakeSub{id: id, user: userID, frames: make(chan []byte, 64)}
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) UserID() string { return f.user }

func (f *fakeSub) Send(frame []byte) bool {
	select {
	case f.frames <- frame:
		return true
	default:
		return false
	}
}

// next waits for the next frame and decodes its envelope.
func (f *fakeSub) next(t *testing.T) Envelope {
	t.Helper()

	select {
	case frame := <-f.frames:
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no frame received", f.id)
		return Envelope{}
	}
}

// expect waits for the next frame, requires it to be event and decodes its data into dst.
func (f *fakeSub) expect(t *testing.T, event string, dst any) {
	t.Helper()

	env := f.next(t)
	require.Equal(t, event, env.Event, "data: %s", env.Data)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
}

func (f *fakeSub) expectNothing(t *testing.T) {
	t.Helper()

	select {
	case frame := <-f.frames:
		t.Fatalf("%s: unexpected frame %s", f.id, frame)
	case <-time.After(100 * time.Millisecond):
	}
}

type testEnv struct {
	svc     *Service
	repo    *MemoryRepository
	manager *Manager
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	repo := NewMemoryRepository()
	manager, err := NewManager(messaging.NewLocalBus())
	require.NoError(t, err)
	t.Cleanup(manager.Shutdown)

	svc := NewService(repo, manager, presence.NewMemoryTracker())
	require.NoError(t, svc.SeedDefaultRooms(context.Background()))

	return testEnv{svc: svc, repo: repo, manager: manager}
}
