package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

func seedOnline(h *harness, identityID string, idle time.Duration) {
	h.mem.SeedProfile(domain.Profile{IdentityID: identityID, IsOnline: true, LastActive: t0.Add(-idle)})
	h.mem.SeedSession(domain.SessionRecord{
		IdentityID:      identityID,
		StartedAt:       t0.Add(-time.Hour),
		LastHeartbeatAt: t0.Add(-idle),
	})
}

func TestReaperDeletesDeadSession(t *testing.T) {
	h := newHarness(t)
	seedOnline(h, "u1", 6*time.Minute)
	changes := h.countEvents(t, events.EventSessionStateChanged)

	summary, err := h.reaper.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupSummary{ExpiredSessions: 1, OfflineUsers: 1}, summary)

	_, ok := h.mem.Session("u1")
	assert.False(t, ok)
	profile, _ := h.mem.Profile("u1")
	assert.False(t, profile.IsOnline)
	require.Len(t, changes(), 1)
	assert.False(t, changes()[0].Payload.(events.SessionStateChangedPayload).IsOnline)
}

func TestReaperMarksIdleOffline(t *testing.T) {
	h := newHarness(t)
	seedOnline(h, "u1", 3*time.Minute)

	summary, err := h.reaper.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupSummary{OfflineUsers: 1}, summary)

	_, ok := h.mem.Session("u1")
	assert.True(t, ok, "idle sessions are kept until the delete threshold")
	profile, _ := h.mem.Profile("u1")
	assert.False(t, profile.IsOnline)

	summary, err = h.reaper.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupSummary{}, summary, "second pass is a no-op")
}

func TestReaperLeavesFreshSessions(t *testing.T) {
	h := newHarness(t)
	seedOnline(h, "u1", 30*time.Second)

	summary, err := h.reaper.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupSummary{}, summary)
	profile, _ := h.mem.Profile("u1")
	assert.True(t, profile.IsOnline)
}

func TestConcurrentReapersDeleteOnce(t *testing.T) {
	h := newHarness(t)
	seedOnline(h, "u1", 10*time.Minute)

	reapers := []*Reaper{h.newReaper(h.newLink()), h.newReaper(h.newLink()), h.newReaper(h.newLink())}
	summaries := make([]domain.CleanupSummary, len(reapers))
	var wg sync.WaitGroup
	for i, r := range reapers {
		wg.Add(1)
		go func(i int, r *Reaper) {
			defer wg.Done()
			summary, err := r.RunCycle(context.Background())
			assert.NoError(t, err)
			summaries[i] = summary
		}(i, r)
	}
	wg.Wait()

	var total domain.CleanupSummary
	for _, s := range summaries {
		total.ExpiredSessions += s.ExpiredSessions
		total.OfflineUsers += s.OfflineUsers
	}
	assert.Equal(t, domain.CleanupSummary{ExpiredSessions: 1, OfflineUsers: 1}, total)
	assert.Equal(t, 1, h.mem.SessionDeletes())
}

func TestReaperRefusesWhenUnreachable(t *testing.T) {
	h := newHarness(t)
	seedOnline(h, "u1", 10*time.Minute)
	h.mem.SetUnreachable(errConnRefused)
	h.link.Probe(context.Background())

	_, err := h.reaper.RunCycle(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRemoteUnreachable)
	_, ok := h.mem.Session("u1")
	assert.True(t, ok)
}

func TestReaperStartRunsOnInterval(t *testing.T) {
	h := newHarness(t)
	seedOnline(h, "u1", 4*time.Minute)

	stop := h.reaper.Start(context.Background())
	defer stop()

	_, ok := h.mem.Session("u1")
	require.True(t, ok)
	h.clk.Advance(time.Minute)
	_, ok = h.mem.Session("u1")
	assert.True(t, ok, "exactly at the delete threshold")

	h.clk.Advance(time.Minute)
	_, ok = h.mem.Session("u1")
	assert.False(t, ok)
}
