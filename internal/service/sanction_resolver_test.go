package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

var errConnRefused = errors.New("dial tcp 10.0.0.5:5432: connection refused")

func TestResolveUnknownIdentityIsClear(t *testing.T) {
	h := newHarness(t)

	res, err := h.resolver.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Banned)
	assert.Equal(t, SourceRemote, res.Source)
}

func TestResolveRequiresIdentity(t *testing.T) {
	h := newHarness(t)

	_, err := h.resolver.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestBanRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	issued, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{
		IdentityID: "u1",
		Reason:     "spam",
		Kind:       domain.SanctionPermanent,
	})
	require.NoError(t, err)

	res, err := h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Banned)
	assert.Equal(t, issued.SanctionID, res.SanctionID)
	assert.Equal(t, "spam", res.Reason)
	assert.Equal(t, domain.SanctionPermanent, res.Kind)
	assert.Nil(t, res.ExpiresAt)
	assert.Equal(t, adminID, res.BannedBy)
	assert.Equal(t, t0, res.BannedAt)

	require.NoError(t, h.moderation.RevokeBan(ctx, adminID, "u1"))

	res, err = h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Banned)
}

func TestTemporaryBanLapses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{
		IdentityID: "u1",
		Reason:     "cooldown",
		Kind:       domain.SanctionTemporary,
		Duration:   time.Hour,
	})
	require.NoError(t, err)

	h.clk.Advance(59 * time.Minute)
	res, err := h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Banned)
	assert.Equal(t, time.Minute, res.TimeRemaining)

	h.clk.Advance(2 * time.Minute)
	res, err = h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Banned)

	_, present := h.mem.Sanction("u1")
	assert.False(t, present)
	assert.Contains(t, h.mem.AuditActions(), domain.AuditBanExpired)
	assert.Equal(t, 1, h.mem.SanctionDeletes())
}

func TestConcurrentExpiryDeletesOnce(t *testing.T) {
	h := newHarness(t)
	expired := t0.Add(-time.Minute)
	h.mem.SeedSanction(domain.SanctionRecord{
		SanctionID: "s-1",
		IdentityID: "u1",
		Reason:     "flood",
		Kind:       domain.SanctionTemporary,
		IssuedAt:   t0.Add(-time.Hour),
		ExpiresAt:  &expired,
		IssuedBy:   adminID,
	})

	const resolvers = 8
	var wg sync.WaitGroup
	results := make([]Resolution, resolvers)
	for i := 0; i < resolvers; i++ {
		r := h.newResolver()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), "u1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.False(t, res.Banned)
	}
	assert.Equal(t, 1, h.mem.SanctionDeletes())

	expiredEntries := 0
	for _, action := range h.mem.AuditActions() {
		if action == domain.AuditBanExpired {
			expiredEntries++
		}
	}
	assert.Equal(t, 1, expiredEntries)
}

func TestResolveFallsBackToCacheWhenUnreachable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{IdentityID: "u1", Reason: "spam", Kind: domain.SanctionPermanent})
	require.NoError(t, err)
	res, err := h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.Banned)

	h.mem.SetUnreachable(errConnRefused)
	assert.False(t, h.link.Probe(ctx))

	res, err = h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Banned)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, "spam", res.Reason)
}

func TestResolveFallsBackWhenReadFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{IdentityID: "u1", Reason: "spam", Kind: domain.SanctionPermanent})
	require.NoError(t, err)
	_, err = h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)

	// The link still believes the store is up; the failed read flips it.
	h.mem.SetUnreachable(errConnRefused)
	res, err := h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Banned)
	assert.Equal(t, SourceCache, res.Source)
	assert.False(t, h.link.Reachable())
}

func TestResolveWithoutCacheDuringOutage(t *testing.T) {
	h := newHarness(t)
	h.mem.SetUnreachable(errConnRefused)
	h.link.Probe(context.Background())

	res, err := h.resolver.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Banned)
	assert.Equal(t, SourceNone, res.Source)
}

func TestCachedBanExpiresLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{
		IdentityID: "u1", Reason: "cooldown", Kind: domain.SanctionTemporary, Duration: 10 * time.Minute,
	})
	require.NoError(t, err)
	_, err = h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)

	h.mem.SetUnreachable(errConnRefused)
	h.link.Probe(ctx)
	h.clk.Advance(11 * time.Minute)

	res, err := h.resolver.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Banned)
	assert.Equal(t, SourceCache, res.Source)
}

func TestMalformedSanctionIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.mem.SeedSanction(domain.SanctionRecord{
		SanctionID: "s-bad",
		IdentityID: "u1",
		Reason:     "broken",
		Kind:       domain.SanctionTemporary,
		IssuedAt:   t0,
	})

	res, err := h.resolver.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Banned)
	assert.Equal(t, SourceNone, res.Source)
	_, present := h.mem.Sanction("u1")
	assert.True(t, present, "malformed records are left for an operator")
}

func TestWatchAnnouncesEachSanctionOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	detected := h.countEvents(t, events.EventBanDetected)

	stop, err := h.resolver.Watch(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, detected())

	first, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{IdentityID: "u1", Reason: "spam", Kind: domain.SanctionPermanent})
	require.NoError(t, err)
	require.Len(t, detected(), 1, "pushed change triggers a check")
	assert.Equal(t, first.SanctionID, detected()[0].Key)

	h.clk.Advance(90 * time.Second)
	assert.Len(t, detected(), 1, "polling does not re-announce")

	require.NoError(t, h.moderation.RevokeBan(ctx, adminID, "u1"))
	second, err := h.moderation.IssueBan(ctx, adminID, IssueBanInput{IdentityID: "u1", Reason: "again", Kind: domain.SanctionPermanent})
	require.NoError(t, err)
	require.Len(t, detected(), 2)
	assert.Equal(t, second.SanctionID, detected()[1].Key)

	stop()
	assert.Zero(t, h.feed.Watchers())
}

func TestWatchPollsWithoutPush(t *testing.T) {
	h := newHarness(t)
	detected := h.countEvents(t, events.EventBanDetected)

	stop, err := h.resolver.Watch(context.Background(), "u1")
	require.NoError(t, err)
	defer stop()

	h.mem.SeedSanction(domain.SanctionRecord{
		SanctionID: "s-quiet",
		IdentityID: "u1",
		Reason:     "spam",
		Kind:       domain.SanctionPermanent,
		IssuedAt:   t0,
		IssuedBy:   adminID,
	})
	assert.Empty(t, detected())

	h.clk.Advance(30 * time.Second)
	require.Len(t, detected(), 1)
	assert.Equal(t, "s-quiet", detected()[0].Key)
}

func TestWatchStopHaltsPolling(t *testing.T) {
	h := newHarness(t)
	detected := h.countEvents(t, events.EventBanDetected)

	stop, err := h.resolver.Watch(context.Background(), "u1")
	require.NoError(t, err)
	stop()
	stop()

	h.mem.SeedSanction(domain.SanctionRecord{
		SanctionID: "s-late", IdentityID: "u1", Reason: "spam", Kind: domain.SanctionPermanent, IssuedAt: t0,
	})
	h.clk.Advance(5 * time.Minute)
	assert.Empty(t, detected())
	assert.Zero(t, h.clk.Pending())
}

func TestCheckWarningsAnnouncesOutstandingOncePerWatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := h.countEvents(t, events.EventWarningCreated)

	acked := t0
	h.mem.SeedWarning(domain.WarningRecord{ID: "w-1", IdentityID: "u1", Title: "Be nice", Severity: domain.SeverityInfo, IssuedAt: t0, Dismissible: true})
	h.mem.SeedWarning(domain.WarningRecord{ID: "w-2", IdentityID: "u1", Title: "Seen", Severity: domain.SeverityInfo, IssuedAt: t0, AcknowledgedAt: &acked, Dismissible: true})

	seen := newAnnouncements()
	h.resolver.checkWarnings(ctx, "u1", seen)
	h.resolver.checkWarnings(ctx, "u1", seen)

	got := created()
	require.Len(t, got, 1)
	assert.Equal(t, "w-1", got[0].Key)

	h.resolver.checkWarnings(ctx, "u1", newAnnouncements())
	assert.Len(t, created(), 2, "a new watch reports outstanding warnings again")
}

func TestWatchAnnouncesBanAgainForNextWatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	detected := h.countEvents(t, events.EventBanDetected)
	h.mem.SeedSanction(domain.SanctionRecord{
		SanctionID: "s-1", IdentityID: "u1", Reason: "spam", Kind: domain.SanctionPermanent, IssuedAt: t0,
	})

	stop, err := h.resolver.Watch(ctx, "u1")
	require.NoError(t, err)
	h.clk.Advance(time.Minute)
	require.Len(t, detected(), 1)
	stop()

	stop, err = h.resolver.Watch(ctx, "u1")
	require.NoError(t, err)
	defer stop()
	got := detected()
	require.Len(t, got, 2)
	assert.Equal(t, "s-1", got[1].Key)
}

func TestWatchResubscribesWhenFeedRecovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	detected := h.countEvents(t, events.EventBanDetected)

	h.feed.FailWatches(errors.New("redis: connection pool timeout"))
	stop, err := h.resolver.Watch(ctx, "u1")
	require.NoError(t, err)
	defer stop()
	assert.Zero(t, h.feed.Watchers())

	h.feed.FailWatches(nil)
	h.clk.Advance(30 * time.Second)
	assert.Equal(t, 2, h.feed.Watchers())

	_, err = h.moderation.IssueBan(ctx, adminID, IssueBanInput{IdentityID: "u1", Reason: "spam", Kind: domain.SanctionPermanent})
	require.NoError(t, err)
	assert.Len(t, detected(), 1, "pushed change arrives without waiting for a poll")

	h.clk.Advance(5 * time.Minute)
	assert.Equal(t, 2, h.feed.Watchers(), "live topics are not subscribed twice")
}
