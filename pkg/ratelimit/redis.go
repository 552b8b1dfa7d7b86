package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hitScript mirrors next() on a redis hash {start, count}, with times in
// unix milliseconds. The key expires with its window.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if (not start) or now - start >= window then
  redis.call('HSET', KEYS[1], 'start', now, 'count', 1)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, now, 1}
end
if count < max then
  count = redis.call('HINCRBY', KEYS[1], 'count', 1)
  return {1, start, count}
end
return {0, start, count}
`)

// RedisStore keeps windows in redis so several processes share one limit.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix defaults to
// "voicever:ratelimit:".
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "voicever:ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	vals, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("redis hit: %w", err)
	}
	if len(vals) != 3 {
		return Window{}, false, fmt.Errorf("redis hit: unexpected reply %v", vals)
	}
	return Window{Start: time.UnixMilli(vals[1]), Count: int(vals[2])}, vals[0] == 1, nil
}

var _ Store = (*RedisStore)(nil)
