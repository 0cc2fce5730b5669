package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding outbound provider calls. News
// endpoints throttle aggressively; pacing requests here keeps the
// transport's retry budget for genuine transient failures.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	burst    int
	interval time.Duration
	last     time.Time
}

// NewRateLimiter allows burst calls per interval.
func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		tokens:   burst,
		burst:    burst,
		interval: interval,
		last:     time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *RateLimiter) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	refills := int(now.Sub(r.last) / r.interval)
	if refills > 0 {
		r.tokens += refills
		if r.tokens > r.burst {
			r.tokens = r.burst
		}
		r.last = r.last.Add(time.Duration(refills) * r.interval)
	}

	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}
