package ratelimit

import (
	"context"
	"errors"
)

// ErrUnavailable means the limiter backend could not be consulted. Callers may proceed without throttling.
var ErrUnavailable = errors.New("rate limiter unavailable")

// RateLimiter throttles outbound calls per key (one key per webhook endpoint).
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// WebhookKey returns the limiter key for dispatches to one endpoint.
func WebhookKey(endpointID string) string {
	return "webhook:" + endpointID
}
