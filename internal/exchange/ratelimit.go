package exchange

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces a minimum spacing of 60/perMinute seconds between
// calls on one adapter. Waiters reserve the next slot under the lock and then
// sleep outside it, so concurrent sub-collections on the same adapter queue up
// without blocking other adapters.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	return &rateLimiter{
		interval: time.Duration(float64(time.Minute) / float64(perMinute)),
	}
}

// wait blocks until the caller's reserved slot arrives or the context is done.
func (r *rateLimiter) wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	slot := r.next
	if slot.Before(now) {
		slot = now
	}
	r.next = slot.Add(r.interval)
	r.mu.Unlock()

	d := time.Until(slot)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
