package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"apato/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// Limiter 限流器接口，房源客户端在每次请求前调用 Wait。
type Limiter interface {
	Wait(ctx context.Context) error
}

// 令牌桶：tokens 按 rate 每秒恢复，最多 burst 个。
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1]) or burst
local ts = tonumber(data[2]) or now

tokens = math.min(burst, tokens + (math.max(0, now - ts) * rate) / 1000.0)

local wait_ms = 0
local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 2000.0))

return {allowed, wait_ms, tokens}
`

// Config 限流参数。
type Config struct {
	Key       string        // Redis key，多个进程共享同一个桶
	Rate      float64       // 每秒补充的令牌数，<= 0 表示不限流
	Burst     float64       // 桶容量
	MaxJitter time.Duration // 等待时附加的随机抖动上限
}

// TokenBucket 基于 Redis 的分布式令牌桶。
type TokenBucket struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
	script *redis.Script
}

func New(rdb *redis.Client, logger *slog.Logger, cfg Config) *TokenBucket {
	if cfg.Key == "" {
		cfg.Key = "apato:ratelimit:source"
	}
	if cfg.MaxJitter == 0 {
		cfg.MaxJitter = 10 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenBucket{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Wait 阻塞直到拿到一个令牌。ctx 结束时返回 ErrRateLimitTimeout。
func (b *TokenBucket) Wait(ctx context.Context) error {
	if b == nil || b.rdb == nil || b.cfg.Rate <= 0 || b.cfg.Burst <= 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		allowed, waitMs, err := b.take(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if b.cfg.MaxJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(b.cfg.MaxJitter)))
		}
		b.logger.Debug("rate limited", slog.String("key", b.cfg.Key), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (b *TokenBucket) take(ctx context.Context) (bool, int64, error) {
	now := time.Now().UnixMilli()
	res, err := b.script.Run(ctx, b.rdb, []string{b.cfg.Key}, b.cfg.Rate, b.cfg.Burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
