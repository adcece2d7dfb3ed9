package ports

import (
	"context"
	"time"
)

// RateLimitRepository stores fixed-window request counters. Safe for concurrent use.
type RateLimitRepository interface {
	// IncrementWindow counts one request for subject in the current window, keeping the
	// counter for ttl, and returns the new count with the window start.
	IncrementWindow(ctx context.Context, subject string, window time.Duration, keyPrefix string, ttl time.Duration) (count int, windowStart time.Time, err error)
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	Limit     int
	Reset     time.Time
}

// RateLimiterService throttles mutations per subject, a user id or a client address.
type RateLimiterService interface {
	// Allow consumes one request for subject. On a counter failure it returns an allowing
	// decision together with the error.
	Allow(ctx context.Context, subject string) (RateDecision, error)
}
