package propublica

import (
	"context"
	"sync"
	"time"
)

// Limiter enforces a sliding-window request budget: at most budget
// acquisitions within any trailing window. Acquire blocks until a slot
// frees; it never rejects while the context is live.
type Limiter struct {
	budget int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter builds a limiter allowing budget acquisitions per window.
// A non-positive budget or window is a configuration error.
func NewLimiter(budget int, window time.Duration) (*Limiter, error) {
	if budget <= 0 {
		return nil, newConfigError("rate limit budget must be positive, got %d", budget)
	}
	if window <= 0 {
		return nil, newConfigError("rate limit window must be positive, got %s", window)
	}
	return &Limiter{
		budget: budget,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

// Acquire blocks until the caller may proceed under the budget, recording
// the acquisition time. It returns early only when ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.now()
		l.prune(now)
		if len(l.stamps) < l.budget {
			l.stamps = append(l.stamps, now)
			l.mu.Unlock()
			return nil
		}
		// Window is full; the oldest stamp leaving the window frees a slot.
		wait := l.window - now.Sub(l.stamps[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops stamps older than the window. Caller holds l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
