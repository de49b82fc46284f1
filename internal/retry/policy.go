package retry

import "time"

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 5 * time.Minute
)

// Policy bounds how many times a unit of work is attempted and how long to wait between attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewPolicy returns a Policy with zero durations replaced by the defaults.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

func (p Policy) ShouldRetry(attempt int) bool {
	return ShouldRetry(attempt, p.MaxAttempts)
}

func (p Policy) NextDelay(attempt int) time.Duration {
	return NextDelay(attempt, p.BaseDelay, p.MaxDelay)
}

// ShouldRetry reports whether another attempt is allowed after attempt attempts.
func ShouldRetry(attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}

// NextDelay returns min(maxDelay, baseDelay*2^(attempt-1)). Attempts below 1 are treated as 1.
func NextDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if baseDelay >= maxDelay {
		return maxDelay
	}

	delay := baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}
