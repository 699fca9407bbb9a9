package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript mirrors MemoryBackend.Take atomically. State lives in a hash:
// c = count, r = window reset (ms), t = first trigger (ms, 0 when unset).
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local recovery = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'c', 'r', 't')
local count = tonumber(state[1])
local resetAt = tonumber(state[2])
local triggered = tonumber(state[3]) or 0

if count == nil or resetAt == nil or now >= resetAt then
  redis.call('HSET', key, 'c', 1, 'r', now + window, 't', 0)
  redis.call('PEXPIRE', key, ttl)
  return {1, 0}
end
if count < capacity then
  redis.call('HINCRBY', key, 'c', 1)
  return {1, 0}
end
if recovery > 0 then
  if triggered == 0 then
    triggered = now
    redis.call('HSET', key, 't', triggered)
    redis.call('PEXPIRE', key, ttl)
  end
  local elapsed = now - triggered
  if elapsed >= recovery then
    redis.call('HSET', key, 'c', 1, 'r', now + window, 't', 0)
    redis.call('PEXPIRE', key, ttl)
    return {1, 0}
  end
  return {0, recovery - elapsed}
end
return {0, 0}
`)

type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "mailshare"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix + ":rl:"}
}

func (r *RedisBackend) Name() string {
	return "redis"
}

func (r *RedisBackend) Take(ctx context.Context, key string, rule Rule, now time.Time) (Result, error) {
	ttl := rule.Window + rule.AutoRecovery + time.Second
	out, err := takeScript.Run(ctx, r.rdb, []string{r.prefix + key},
		now.UnixMilli(),
		rule.Capacity,
		rule.Window.Milliseconds(),
		rule.AutoRecovery.Milliseconds(),
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	if len(out) != 2 {
		return Result{}, fmt.Errorf("unexpected limiter reply: %v", out)
	}
	if out[0] == 1 {
		return Result{Allowed: true}, nil
	}
	return Result{Allowed: false, RetryAfter: ceilSeconds(time.Duration(out[1]) * time.Millisecond)}, nil
}
