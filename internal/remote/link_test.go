package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/config"
	"github.com/spec-kit/moderation-service/internal/observability"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type stubProber struct {
	err atomic.Value
}

func (p *stubProber) fail(err error) { p.err.Store(&err) }
func (p *stubProber) heal()          { p.err.Store((*error)(nil)) }

func (p *stubProber) Ping(ctx context.Context) error {
	if v, ok := p.err.Load().(*error); ok && v != nil {
		return *v
	}
	return nil
}

func testConfig() config.RemoteConfig {
	return config.RemoteConfig{
		ProbeInterval:        15 * time.Second,
		ProbeTimeout:         time.Second,
		FailureThreshold:     3,
		FailureWindow:        time.Minute,
		OpenCooldown:         30 * time.Second,
		ReadTimeout:          time.Second,
		WriteTimeout:         time.Second,
		CriticalWriteTimeout: time.Second,
		MaxAttempts:          2,
	}
}

func newTestLink(t *testing.T, probers map[string]Prober) (*Link, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	return NewLink(testConfig(), probers, clk, zap.NewNop(), observability.NewMetrics()), clk
}

func TestDoRetriesTransientFailure(t *testing.T) {
	link, _ := newTestLink(t, nil)
	calls := 0
	err := link.Do(context.Background(), "read", OpRead, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, link.Reachable())
}

func TestDoPassesThroughStoreAnswers(t *testing.T) {
	link, _ := newTestLink(t, nil)
	calls := 0
	err := link.Do(context.Background(), "read", OpRead, func(ctx context.Context) error {
		calls++
		return apperrors.ErrNotFound
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustionReportsUnreachable(t *testing.T) {
	link, _ := newTestLink(t, nil)
	err := link.Do(context.Background(), "sanctions.get", OpRead, func(ctx context.Context) error {
		return errors.New("dial tcp: connection refused")
	})
	require.ErrorIs(t, err, apperrors.ErrRemoteUnreachable)
	assert.False(t, link.Reachable())
	assert.Contains(t, link.Diagnostic(), "connection refused")

	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, "REMOTE_UNREACHABLE", domainErr.Code)
	assert.True(t, domainErr.Retryable())
}

func TestDoCancelledCallerKeepsFailureHistory(t *testing.T) {
	link, _ := newTestLink(t, nil)
	refused := func(ctx context.Context) error { return errors.New("connection refused") }

	err := link.Do(context.Background(), "read", OpRead, refused)
	require.ErrorIs(t, err, apperrors.ErrRemoteUnreachable)
	require.False(t, link.Reachable())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = link.Do(ctx, "read", OpRead, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, link.Reachable(), "cancellation is not a successful call")
	assert.Equal(t, StateClosed, link.BreakerState())

	err = link.Do(context.Background(), "read", OpRead, refused)
	require.ErrorIs(t, err, apperrors.ErrRemoteUnreachable)
	assert.Equal(t, StateOpen, link.BreakerState(), "earlier failures still count toward the threshold")
}

func TestBreakerOpensAndSheds(t *testing.T) {
	link, clk := newTestLink(t, nil)
	failing := func(ctx context.Context) error { return errors.New("timeout") }

	_ = link.Do(context.Background(), "op", OpWrite, failing)
	_ = link.Do(context.Background(), "op", OpWrite, failing)
	require.Equal(t, StateOpen, link.BreakerState())

	calls := 0
	err := link.Do(context.Background(), "op", OpWrite, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, apperrors.ErrRemoteUnreachable)
	assert.Zero(t, calls, "open breaker must shed calls")

	clk.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, link.BreakerState())
	err = link.Do(context.Background(), "op", OpWrite, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, link.BreakerState())
	assert.True(t, link.Reachable())
}

func TestBreakerFailureWindowResets(t *testing.T) {
	clk := clock.Fake(epoch)
	b := NewBreaker(clk, 2, time.Minute, time.Second, nil)

	b.Failure()
	clk.Advance(2 * time.Minute)
	b.Failure()
	assert.Equal(t, StateClosed, b.State())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	clk := clock.Fake(epoch)
	b := NewBreaker(clk, 1, time.Minute, time.Second, nil)
	b.Failure()
	require.False(t, b.Allow())

	clk.Advance(time.Second)
	require.True(t, b.Allow())
	assert.False(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
}

func TestProbeTracksReachability(t *testing.T) {
	pg := &stubProber{}
	rd := &stubProber{}
	link, clk := newTestLink(t, map[string]Prober{"postgres": pg, "redis": rd})

	stop := link.Start(context.Background())
	defer stop()
	assert.True(t, link.Reachable())

	rd.fail(errors.New("redis down"))
	clk.Advance(15 * time.Second)
	assert.False(t, link.Reachable())
	assert.Equal(t, "redis: redis down", link.Diagnostic())

	rd.heal()
	clk.Advance(15 * time.Second)
	assert.True(t, link.Reachable())
	assert.Empty(t, link.Diagnostic())
	assert.Equal(t, epoch.Add(30*time.Second), link.LastChecked())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(apperrors.ErrNotFound))
	assert.False(t, IsTransient(apperrors.NewConcurrentModification("c", nil)))
	assert.True(t, IsTransient(apperrors.NewRemoteUnreachable("x", nil)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("EOF")))
}
