package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"linkgate/backend/internal/ratelimit"
)

// slidingWindowScript 滑动窗口日志限流
//
// KEYS[1] 窗口有序集合, KEYS[2] 冷却标记
// ARGV: now_ms, window_ms, budget, cooldown_ms, member, consume(1/0)
// 返回 {allowed, remaining, retry_after_ms}
var slidingWindowScript = goredis.NewScript(`
local zkey = KEYS[1]
local bkey = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local budget = tonumber(ARGV[3])
local cooldown = tonumber(ARGV[4])
local member = ARGV[5]
local consume = ARGV[6] == "1"

local blocked = redis.call("PTTL", bkey)
if blocked > 0 then
  return {0, 0, blocked}
end

redis.call("ZREMRANGEBYSCORE", zkey, "-inf", now - window)
local count = redis.call("ZCARD", zkey)

if count >= budget then
  if cooldown > 0 then
    if not consume then
      return {1, 0, 0}
    end
    redis.call("SET", bkey, "1", "PX", cooldown)
    redis.call("DEL", zkey)
    return {0, 0, cooldown}
  end
  local oldest = redis.call("ZRANGE", zkey, 0, 0, "WITHSCORES")
  local retry = tonumber(oldest[2]) + window - now
  return {0, 0, retry}
end

if not consume then
  return {1, budget - count, 0}
end

redis.call("ZADD", zkey, now, member)
redis.call("PEXPIRE", zkey, window)
return {1, budget - count - 1, 0}
`)

// RateLimitBackend 基于 Redis 的限流后端，单个 Lua 脚本保证多实例下的原子性
type RateLimitBackend struct {
	client *Client
}

// NewRateLimitBackend 创建 Redis 限流后端
func NewRateLimitBackend(client *Client) *RateLimitBackend {
	return &RateLimitBackend{client: client}
}

// Hit 记录一次尝试
func (b *RateLimitBackend) Hit(ctx context.Context, key string, now time.Time, policy ratelimit.Policy) (ratelimit.Decision, error) {
	return b.run(ctx, key, now, policy, true)
}

// Peek 查询当前状态
func (b *RateLimitBackend) Peek(ctx context.Context, key string, now time.Time, policy ratelimit.Policy) (ratelimit.Decision, error) {
	return b.run(ctx, key, now, policy, false)
}

func (b *RateLimitBackend) run(ctx context.Context, key string, now time.Time, policy ratelimit.Policy, consume bool) (ratelimit.Decision, error) {
	flag := "0"
	if consume {
		flag = "1"
	}

	res, err := slidingWindowScript.Run(ctx, b.client.rdb,
		[]string{"{" + key + "}", "{" + key + "}:blocked"},
		now.UnixMilli(),
		policy.Window.Milliseconds(),
		policy.Budget,
		policy.Cooldown.Milliseconds(),
		uuid.NewString(),
		flag,
	).Int64Slice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}

	return ratelimit.Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

var _ ratelimit.Backend = (*RateLimitBackend)(nil)
