// Package remote guards every call to the authoritative store with
// per-operation timeouts, bounded retry and a circuit breaker, and tracks
// whether the store is currently reachable.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/config"
	"github.com/spec-kit/moderation-service/internal/observability"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// OpKind selects the timeout applied to a call.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpCriticalWrite
)

// Prober checks connectivity to one backend of the store.
type Prober interface {
	Ping(ctx context.Context) error
}

// Link is the single gateway to the authoritative store.
type Link struct {
	cfg     config.RemoteConfig
	clock   clock.Clock
	logger  *zap.Logger
	metrics *observability.Metrics
	breaker *Breaker
	probers map[string]Prober
	names   []string

	mu          sync.RWMutex
	reachable   bool
	diagnostic  string
	lastChecked time.Time
}

// NewLink builds a link over the named probers. The link starts out
// reachable; the first probe or failed call corrects that.
func NewLink(cfg config.RemoteConfig, probers map[string]Prober, clk clock.Clock, logger *zap.Logger, metrics *observability.Metrics) *Link {
	names := make([]string, 0, len(probers))
	for name := range probers {
		names = append(names, name)
	}
	sort.Strings(names)

	l := &Link{
		cfg:       cfg,
		clock:     clk,
		logger:    logger.Named("remote"),
		metrics:   metrics,
		probers:   probers,
		names:     names,
		reachable: true,
	}
	l.breaker = NewBreaker(clk, cfg.FailureThreshold, cfg.FailureWindow, cfg.OpenCooldown, func(s State) {
		l.logger.Info("circuit breaker transition", zap.Stringer("state", s))
		metrics.BreakerState(int(s))
	})
	return l
}

// Reachable reports whether calls are currently expected to succeed.
func (l *Link) Reachable() bool {
	if l.breaker.State() == StateOpen {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reachable
}

// Diagnostic describes the last connectivity failure, or "" when healthy.
func (l *Link) Diagnostic() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.diagnostic
}

// LastChecked returns when the last probe ran.
func (l *Link) LastChecked() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastChecked
}

// BreakerState exposes the breaker position for health reporting.
func (l *Link) BreakerState() State {
	return l.breaker.State()
}

// Probe pings every backend once and updates reachability.
func (l *Link) Probe(ctx context.Context) bool {
	var failures []string
	for _, name := range l.names {
		probeCtx, cancel := context.WithTimeout(ctx, l.cfg.ProbeTimeout)
		err := l.probers[name].Ping(probeCtx)
		cancel()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
		}
	}

	l.mu.Lock()
	l.lastChecked = l.clock.Now()
	l.mu.Unlock()

	if len(failures) > 0 {
		diag := failures[0]
		if len(failures) > 1 {
			diag = fmt.Sprintf("%s (+%d more)", diag, len(failures)-1)
		}
		l.breaker.Failure()
		l.metrics.RemoteFailure("probe")
		l.setUnreachable(diag)
		return false
	}
	l.breaker.Success()
	l.setReachable()
	return true
}

// Start probes immediately and then every ProbeInterval until stop is called.
func (l *Link) Start(ctx context.Context) (stop func()) {
	l.Probe(ctx)
	return clock.Every(l.clock, l.cfg.ProbeInterval, func() {
		if ctx.Err() == nil {
			l.Probe(ctx)
		}
	})
}

// Do runs fn under the timeout for kind, retrying transient failures with
// exponential backoff. Results from the store, including ErrNotFound and
// domain errors, are returned as-is. Exhausted retries and shed calls
// return RemoteUnreachable.
func (l *Link) Do(ctx context.Context, op string, kind OpKind, fn func(ctx context.Context) error) error {
	attempts := l.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := l.cfg.BaseBackoff << (attempt - 1)
			if err := clock.Sleep(ctx, l.clock, backoff); err != nil {
				return err
			}
		}
		if !l.breaker.Allow() {
			if lastErr == nil {
				lastErr = errBreakerOpen
			}
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, l.timeout(kind))
		err := fn(callCtx)
		cancel()

		// A cancelled caller leaves the breaker and reachability untouched.
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil || !IsTransient(err) {
			l.breaker.Success()
			l.setReachable()
			return err
		}

		lastErr = err
		l.breaker.Failure()
		l.metrics.RemoteFailure(op)
		l.logger.Warn("remote call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	diag := fmt.Sprintf("%s: %v", op, lastErr)
	if errors.Is(lastErr, errBreakerOpen) {
		diag = fmt.Sprintf("%s: %v", op, errBreakerOpen)
	}
	l.setUnreachable(diag)
	return apperrors.NewRemoteUnreachable(diag, lastErr)
}

func (l *Link) timeout(kind OpKind) time.Duration {
	switch kind {
	case OpWrite:
		return l.cfg.WriteTimeout
	case OpCriticalWrite:
		return l.cfg.CriticalWriteTimeout
	default:
		return l.cfg.ReadTimeout
	}
}

func (l *Link) setReachable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.reachable {
		l.logger.Info("authoritative store reachable again")
	}
	l.reachable = true
	l.diagnostic = ""
}

func (l *Link) setUnreachable(diag string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reachable {
		l.logger.Warn("authoritative store unreachable", zap.String("diagnostic", diag))
	}
	l.reachable = false
	l.diagnostic = diag
}
