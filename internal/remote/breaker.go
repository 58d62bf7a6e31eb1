package remote

import (
	"sync"
	"time"

	"github.com/spec-kit/moderation-service/internal/clock"
)

// State is the circuit breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Breaker opens after threshold failures inside window and lets a single
// trial call through once cooldown has elapsed.
type Breaker struct {
	mu        sync.Mutex
	clock     clock.Clock
	threshold int
	window    time.Duration
	cooldown  time.Duration
	onChange  func(State)

	state       State
	failures    int
	windowStart time.Time
	openedAt    time.Time
	trial       bool
}

// NewBreaker returns a closed breaker. onChange may be nil.
func NewBreaker(clk clock.Clock, threshold int, window, cooldown time.Duration, onChange func(State)) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		clock:     clk,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		onChange:  onChange,
	}
}

// State reports the current position. An open breaker whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cooldownElapsedLocked() {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call may proceed. In half-open only one trial is
// admitted until it reports Success or Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.cooldownElapsedLocked() {
			return false
		}
		b.setLocked(StateHalfOpen)
		b.trial = true
		return true
	default:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
}

// Success closes the breaker and clears the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	b.setLocked(StateClosed)
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	b.trial = false

	if b.state != StateClosed {
		b.openedAt = now
		b.setLocked(StateOpen)
		return
	}
	if b.failures == 0 || now.Sub(b.windowStart) > b.window {
		b.failures = 0
		b.windowStart = now
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = now
		b.setLocked(StateOpen)
	}
}

func (b *Breaker) cooldownElapsedLocked() bool {
	return !b.clock.Now().Before(b.openedAt.Add(b.cooldown))
}

func (b *Breaker) setLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}
