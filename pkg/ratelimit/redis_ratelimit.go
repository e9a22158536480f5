package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 토큰은 1000 배 정수로 저장 (부동소수 직렬화 회피)
//
// KEYS[1]: bucket hash
// ARGV: capacity, window(ms), now(ms)
// returns {allowed, remaining, retry_after_ms}
var tokenBucketScript = redis.NewScript(`
	local scale = 1000
	local capacity = tonumber(ARGV[1]) * scale
	local window = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
	local tokens = tonumber(data[1])
	local ts = tonumber(data[2])
	if tokens == nil or ts == nil then
		tokens = capacity
		ts = now
	end

	local elapsed = math.max(0, now - ts)
	tokens = math.min(capacity, tokens + math.floor(elapsed * capacity / window))

	local allowed = 0
	local retry = 0
	if tokens >= scale then
		tokens = tokens - scale
		allowed = 1
	else
		retry = math.ceil((scale - tokens) * window / capacity)
	end

	redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
	redis.call('PEXPIRE', KEYS[1], window * 2)

	return {allowed, math.floor(tokens / scale), retry}
`)

// RedisRateLimiter 인스턴스 간 공유되는 token bucket
type RedisRateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int
	window    time.Duration
	now       func() time.Time
}

// NewRedisRateLimiter window 동안 limit 개 요청 허용
func NewRedisRateLimiter(client redis.UniversalClient, keyPrefix string, limit int, window time.Duration) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}

	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
		now:       time.Now,
	}
}

// Allow 요청 하나를 소비
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	res, err := tokenBucketScript.Run(ctx, r.client,
		[]string{r.keyPrefix + key},
		r.limit, r.window.Milliseconds(), r.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis script execution failed: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("invalid script result: %v", res)
	}

	return &Decision{
		Allowed:    res[0] == 1,
		Limit:      r.limit,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Reset 특정 키 초기화
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
