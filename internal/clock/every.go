package clock

import (
	"context"
	"sync"
	"time"
)

// Every calls f every d until the returned stop func is called. Calls never
// overlap: the next one is scheduled after f returns. stop is idempotent and
// safe to call from inside f. Panics if d <= 0.
func Every(c Clock, d time.Duration, f func()) (stop func()) {
	if d <= 0 {
		panic("clock: non-positive interval for Every")
	}
	var (
		mu      sync.Mutex
		timer   Timer
		stopped bool
	)

	var tick func()
	tick = func() {
		mu.Lock()
		if stopped {
			mu.Unlock()
			return
		}
		mu.Unlock()

		f()

		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			timer = c.AfterFunc(d, tick)
		}
	}

	mu.Lock()
	timer = c.AfterFunc(d, tick)
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if timer != nil {
			timer.Stop()
		}
	}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	done := make(chan struct{})
	timer := c.AfterFunc(d, func() { close(done) })
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}
