package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out candidate requests by a fixed delay. The first Wait
// returns immediately.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows one request per delay; a non-positive delay disables throttling.
func NewThrottle(delay time.Duration) *Throttle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next request is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil || t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}
