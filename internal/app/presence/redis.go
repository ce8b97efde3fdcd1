package presence

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:room:"

// DefaultPresenceTTL bounds how long a room's counts outlive their last
// change. Counts held by a crashed instance disappear after it.
const DefaultPresenceTTL = 6 * time.Hour

// addScript increments a user's connection count and refreshes the room's
// expiry, atomically.
var addScript = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return n
`)

// removeScript decrements a user's connection count, deletes the field once
// it reaches zero and refreshes the room's expiry, atomically.
var removeScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
	n = 0
end
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return n
`)

// RedisTracker keeps one hash per room mapping user id to connection count,
// shared by every server instance. Each change refreshes the hash's TTL.
type RedisTracker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisTracker creates a tracker backed by rdb with DefaultPresenceTTL.
func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return NewRedisTrackerWithTTL(rdb, DefaultPresenceTTL)
}

// NewRedisTrackerWithTTL creates a tracker whose room hashes expire ttl after
// their last change.
func NewRedisTrackerWithTTL(rdb *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisTracker{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func roomKey(roomID string) string {
	return keyPrefix + roomID
}

func (t *RedisTracker) Add(ctx context.Context, roomID, userID string) (int, error) {
	n, err := addScript.Run(ctx, t.rdb, []string{roomKey(roomID)}, userID, t.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("presence add %s/%s: %w", roomID, userID, err)
	}
	return n, nil
}

func (t *RedisTracker) Remove(ctx context.Context, roomID, userID string) (int, error) {
	n, err := removeScript.Run(ctx, t.rdb, []string{roomKey(roomID)}, userID, t.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("presence remove %s/%s: %w", roomID, userID, err)
	}
	return n, nil
}

func (t *RedisTracker) Online(ctx context.Context, roomID string) ([]string, error) {
	counts, err := t.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence online %s: %w", roomID, err)
	}

	out := make([]string, 0, len(counts))
	for userID, raw := range counts {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			out = append(out, userID)
		}
	}
	slices.Sort(out)
	return out, nil
}
