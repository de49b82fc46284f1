package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/ratelimit"
)

const (
	defaultLimitPerSec int64 = 50
	minWait                  = 10 * time.Millisecond
	window                   = time.Second
	keyPrefix                = "wms:ratelimit"
)

// allowScript counts one call in the window key and reports whether the limit still holds.
// The key expires with its window so idle endpoints leave nothing behind.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed one-second window limiter shared by every replica through Redis.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

// Allow consumes one slot of the current window for key.
// Redis failures are wrapped in ratelimit.ErrUnavailable.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	start := r.windowStart()
	windowKey := fmt.Sprintf("%s:%s:%d", keyPrefix, normalizedKey, start.Unix())
	result, err := allowScript.Run(ctx, r.client, []string{windowKey}, r.limitPerSec, window.Milliseconds()).Int()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %v", ratelimit.ErrUnavailable, err)
	}

	return result == 1, nil
}

// Wait blocks until key gets a slot or ctx ends. A denied call sleeps until the next window opens.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := r.Allow(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) windowStart() time.Time {
	return r.now().UTC().Truncate(window)
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	now := r.now().UTC()
	d := now.Truncate(window).Add(window).Sub(now)
	if d < minWait {
		return minWait
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
