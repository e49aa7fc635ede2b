package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/modporter/api/internal/config"
	"github.com/modporter/api/pkg/response"
)

// tokenBucketScript refills by elapsed time and withdraws one token in a
// single atomic step, so concurrent checks for the same key cannot spend the
// same token twice. Returns {allowed, remaining tokens}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
tokens = math.min(capacity, tokens + (now - ts) * refill)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('EXPIRE', KEYS[1], math.ceil(capacity / refill) + 60)
return {allowed, tostring(tokens)}
`)

// RateLimiter applies token-bucket admission control per (client, route)
// pair. Buckets live in Redis so limits hold across instances; without a
// Redis client it falls back to in-process buckets.
type RateLimiter struct {
	redis *redis.Client
	local *localBuckets
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis: redisClient,
		local: newLocalBuckets(),
	}
}

// Limit creates an admission-control middleware for one route tag.
func (rl *RateLimiter) Limit(route string, limit config.RouteLimit) fiber.Handler {
	return func(c *fiber.Ctx) error {
		client := GetUserID(c)
		if client == "" {
			client = c.IP()
		}
		key := fmt.Sprintf("ratelimit:%s:%s", route, client)

		allowed, remaining, err := rl.take(c.Context(), key, limit)
		if err != nil {
			// Admission control failing open beats refusing all traffic.
			return c.Next()
		}

		if !allowed {
			retryAfter := int(math.Ceil((1 - remaining) / limit.PerSec))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit.Burst))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(remaining)))
		return c.Next()
	}
}

func (rl *RateLimiter) take(ctx context.Context, key string, limit config.RouteLimit) (bool, float64, error) {
	if rl.redis == nil {
		allowed, remaining := rl.local.take(key, limit)
		return allowed, remaining, nil
	}

	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, rl.redis, []string{key}, limit.Burst, limit.PerSec, now).Slice()
	if err != nil || len(res) != 2 {
		return false, 0, fmt.Errorf("token bucket check failed: %w", err)
	}

	allowed, _ := res[0].(int64)
	remaining := 0.0
	if s, ok := res[1].(string); ok {
		fmt.Sscanf(s, "%f", &remaining)
	}
	return allowed == 1, remaining, nil
}

// localBuckets is the in-process fallback. Same refill-on-demand semantics
// as the Lua script, guarded by a mutex instead. Where the Redis buckets
// lapse via TTL, idle local buckets are evicted by a periodic sweep piggy-
// backed on take.
type localBuckets struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

type bucket struct {
	tokens   float64
	last     time.Time
	capacity float64
	refill   float64
}

const bucketSweepInterval = time.Minute

func newLocalBuckets() *localBuckets {
	return &localBuckets{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (lb *localBuckets) take(key string, limit config.RouteLimit) (bool, float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := lb.now()
	lb.sweep(now)

	b, ok := lb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(limit.Burst), last: now}
		lb.buckets[key] = b
	}
	b.capacity = float64(limit.Burst)
	b.refill = limit.PerSec

	elapsed := now.Sub(b.last).Seconds()
	b.tokens = math.Min(float64(limit.Burst), b.tokens+elapsed*limit.PerSec)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens
	}
	return false, b.tokens
}

// sweep drops buckets that have refilled back to capacity. Callers hold the
// mutex.
func (lb *localBuckets) sweep(now time.Time) {
	if now.Sub(lb.lastSweep) < bucketSweepInterval {
		return
	}
	lb.lastSweep = now
	for key, b := range lb.buckets {
		if b.tokens+now.Sub(b.last).Seconds()*b.refill >= b.capacity {
			delete(lb.buckets, key)
		}
	}
}
