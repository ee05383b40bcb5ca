package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// hitScript runs the fixed-window step atomically inside Redis.
// KEYS[1] counter hash, ARGV now_ms, window_ms, max.
// Returns {allowed, remaining, reset_at_ms}.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

local vals = redis.call('HMGET', KEYS[1], 'count', 'reset_at')
local count = tonumber(vals[1])
local reset = tonumber(vals[2])

if count == nil or reset == nil or reset <= now then
  reset = now + window
  redis.call('HSET', KEYS[1], 'count', 1, 'reset_at', reset)
  redis.call('PEXPIREAT', KEYS[1], reset)
  return {1, max - 1, reset}
end

if count >= max then
  return {0, 0, reset}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, max - count, reset}
`)

// RedisStore keeps counters as Redis hashes that expire with their window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit"}
}

func (s *RedisStore) key(identifier string, action Action) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, action, identifier)
}

func (s *RedisStore) Hit(ctx context.Context, identifier string, action Action, policy Policy, now time.Time) (Result, error) {
	vals, err := hitScript.Run(ctx, s.client,
		[]string{s.key(identifier, action)},
		now.UnixMilli(), policy.Window.Milliseconds(), policy.Max,
	).Int64Slice()
	if err != nil {
		return Result{}, oops.Code("RATE_LIMIT_REDIS_FAILED").With("action", string(action)).Wrap(err)
	}
	if len(vals) != 3 {
		return Result{}, oops.Code("RATE_LIMIT_REDIS_FAILED").Errorf("unexpected script reply of length %d", len(vals))
	}

	return Result{
		Allowed:   vals[0] == 1,
		Remaining: int(vals[1]),
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, identifier string, action Action) error {
	if err := s.client.Del(ctx, s.key(identifier, action)).Err(); err != nil {
		return oops.Code("RATE_LIMIT_RESET_FAILED").With("action", string(action)).Wrap(err)
	}
	return nil
}

// DeleteExpired is a no-op: keys expire with their window.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
