package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCount(t *testing.T, want int) func(int, error) {
	t.Helper()
	return func(got int, err error) {
		t.Helper()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func exerciseTracker(t *testing.T, tr Tracker, room string) {
	t.Helper()
	ctx := context.Background()

	mustCount(t, 1)(tr.Add(ctx, room, "bob"))
	mustCount(t, 1)(tr.Add(ctx, room, "alice"))
	mustCount(t, 2)(tr.Add(ctx, room, "alice"))

	online, err := tr.Online(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online)

	// alice still has a second connection
	mustCount(t, 1)(tr.Remove(ctx, room, "alice"))
	online, err = tr.Online(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, online)

	mustCount(t, 0)(tr.Remove(ctx, room, "alice"))
	mustCount(t, 0)(tr.Remove(ctx, room, "bob"))
	online, err = tr.Online(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, online)

	// removing an absent user is harmless
	mustCount(t, 0)(tr.Remove(ctx, room, "ghost"))
	online, err = tr.Online(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestMemoryTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryTracker(), "math")
}

func TestMemoryTracker_RoomsAreIndependent(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	mustCount(t, 1)(tr.Add(ctx, "math", "alice"))
	mustCount(t, 1)(tr.Add(ctx, "design", "bob"))

	online, err := tr.Online(ctx, "math")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, online)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = rdb.Close() })

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skip("redis not available")
	}
	return rdb
}

func TestRedisTracker(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()

	room := "test-" + uuid.NewString()
	defer rdb.Del(ctx, roomKey(room))

	exerciseTracker(t, NewRedisTracker(rdb), room)
}

func TestRedisTracker_RoomKeyExpires(t *testing.T) {
	rdb := redisClient(t)
	ctx := context.Background()

	room := "test-" + uuid.NewString()
	defer rdb.Del(ctx, roomKey(room))

	tr := NewRedisTrackerWithTTL(rdb, time.Minute)
	mustCount(t, 1)(tr.Add(ctx, room, "alice"))
	mustCount(t, 1)(tr.Add(ctx, room, "bob"))

	ttl, err := rdb.PTTL(ctx, roomKey(room)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "room key carries an expiry")
	assert.LessOrEqual(t, ttl, time.Minute)

	mustCount(t, 0)(tr.Remove(ctx, room, "alice"))
	ttl, err = rdb.PTTL(ctx, roomKey(room)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "removal keeps the expiry on the surviving key")

	mustCount(t, 0)(tr.Remove(ctx, room, "bob"))
	exists, err := rdb.Exists(ctx, roomKey(room)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
