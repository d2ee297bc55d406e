package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScript increments the counter unless the key is locked.
// Returns {allowed, remaining, lock_ttl_ms}.
var recordScript = redis.NewScript(`
local lockTTL = redis.call('PTTL', KEYS[2])
if lockTTL > 0 then
  return {0, 0, lockTTL}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local max = tonumber(ARGV[1])
if n > max then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
  redis.call('DEL', KEYS[1])
  return {0, 0, tonumber(ARGV[3])}
end
return {1, max - n, 0}
`)

// RedisStore keeps attempt counters in Redis with expiring keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a RedisStore. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "cardreveal:unlock"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// keys shares one hash tag so the script's keys land in the same cluster slot.
func (s *RedisStore) keys(key Key) []string {
	base := s.prefix + ":{" + key.String() + "}"
	return []string{base + ":attempts", base + ":lock"}
}

// Record runs the increment-and-check script atomically on the server.
func (s *RedisStore) Record(ctx context.Context, key Key, policy Policy, now time.Time) (Decision, error) {
	if s == nil || s.client == nil {
		return Decision{}, fmt.Errorf("rate limiter: nil redis client")
	}
	window := policy.Window
	if window <= 0 {
		window = time.Hour
	}
	lockout := policy.Lockout
	if lockout <= 0 {
		lockout = time.Second
	}
	out, errRun := recordScript.Run(ctx, s.client, s.keys(key),
		policy.MaxAttempts, window.Milliseconds(), lockout.Milliseconds(),
	).Int64Slice()
	if errRun != nil {
		return Decision{}, fmt.Errorf("rate limiter: redis script: %w", errRun)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("rate limiter: unexpected script reply %v", out)
	}
	if out[0] == 1 {
		return Decision{Allowed: true, AttemptsRemaining: int(out[1])}, nil
	}
	until := now.Add(time.Duration(out[2]) * time.Millisecond)
	return Decision{Allowed: false, AttemptsRemaining: 0, LockedUntil: &until}, nil
}

// Reset deletes both the counter and the lock.
func (s *RedisStore) Reset(ctx context.Context, key Key, _ time.Time) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("rate limiter: nil redis client")
	}
	return s.client.Del(ctx, s.keys(key)...).Err()
}
