// Package ratelimiter provides a strict minimum-interval gate for upstream
// requests. Unlike a token bucket it never allows bursts: every admitted
// request pushes the next admission at least one full interval into the
// future.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a fixed minimum interval between operations. A single
// Limiter must be shared by every caller that talks to the same upstream;
// the interval is global, not per caller.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time // swapped in tests
}

// New creates a Limiter with the given minimum interval between admissions.
// The first Wait returns immediately.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
	}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous admission, or until the context is done. On success the admission
// time is recorded before returning.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.last.IsZero() {
		if remaining := l.interval - l.now().Sub(l.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	l.last = l.now()
	return nil
}

// Stop releases the limiter. It holds no background resources, so this is a
// no-op kept for callers that manage lifecycles.
func (l *Limiter) Stop() {}

// Interval reports the configured minimum interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
