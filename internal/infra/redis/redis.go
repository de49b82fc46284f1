package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout      = 5 * time.Second
	defaultOpTimeout = 500 * time.Millisecond
)

// NewRedis connects to the rate limiter store. opTimeout bounds every read and write so a
// slow Redis surfaces as an error quickly instead of stalling webhook dispatch.
func NewRedis(ctx context.Context, url string, opTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
