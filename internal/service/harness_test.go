package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/cache"
	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/config"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	"github.com/spec-kit/moderation-service/internal/observability"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	"github.com/spec-kit/moderation-service/internal/repository/repofake"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

const (
	ownerID = "owner"
	adminID = "admin1"
	modID   = "mod1"
)

type harness struct {
	clk       *clock.FakeClock
	mem       *repofake.Memory
	store     *repository.Store
	feed      *repofake.Feed
	link      *remote.Link
	cache     *cache.Cache
	bus       events.Dispatcher
	metrics   *observability.Metrics
	presenter *recordingPresenter

	roles      *RoleResolver
	resolver   *SanctionResolver
	presence   *PresenceTracker
	reaper     *Reaper
	controller *EnforcementController
	moderation *ModerationService
	guard      *Guard
}

func linkConfig() config.RemoteConfig {
	return config.RemoteConfig{
		ProbeInterval:        15 * time.Second,
		ProbeTimeout:         time.Second,
		FailureThreshold:     1000,
		FailureWindow:        time.Minute,
		OpenCooldown:         time.Second,
		ReadTimeout:          time.Second,
		WriteTimeout:         time.Second,
		CriticalWriteTimeout: time.Second,
		MaxAttempts:          1,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:       clock.Fake(t0),
		mem:       repofake.New(),
		feed:      repofake.NewFeed(),
		cache:     cache.NewMemory(),
		bus:       events.NewInMemoryDispatcher(),
		metrics:   observability.NewMetrics(),
		presenter: &recordingPresenter{},
	}
	h.store = h.mem.Store()
	h.link = h.newLink()

	h.roles = NewRoleResolver(RoleResolverDependencies{
		Store:           h.store,
		Feed:            h.feed,
		Link:            h.link,
		Cache:           h.cache,
		Dispatcher:      h.bus,
		Clock:           h.clk,
		Logger:          zap.NewNop(),
		OwnerIdentityID: ownerID,
	})
	h.resolver = h.newResolver()
	h.presence = NewPresenceTracker(PresenceTrackerDependencies{
		Store:             h.store,
		Feed:              h.feed,
		Link:              h.link,
		Cache:             h.cache,
		Dispatcher:        h.bus,
		Clock:             h.clk,
		Logger:            zap.NewNop(),
		HeartbeatInterval: 30 * time.Second,
		StaleAfter:        2 * time.Minute,
	})
	h.reaper = h.newReaper(h.link)
	h.controller = NewEnforcementController(EnforcementDependencies{
		Dispatcher:    h.bus,
		Cache:         h.cache,
		Presenter:     h.presenter,
		Clock:         h.clk,
		Logger:        zap.NewNop(),
		Metrics:       h.metrics,
		GracePeriod:   5 * time.Second,
		RedirectRoute: "/",
	})
	h.controller.RegisterHandlers()
	t.Cleanup(h.controller.Stop)

	h.moderation = NewModerationService(ModerationDependencies{
		Store:           h.store,
		Feed:            h.feed,
		Link:            h.link,
		Roles:           h.roles,
		Resolver:        h.resolver,
		Reaper:          h.reaper,
		Clock:           h.clk,
		Logger:          zap.NewNop(),
		OwnerIdentityID: ownerID,
	})
	h.guard = NewGuard(GuardDependencies{
		Resolver:    h.resolver,
		Presence:    h.presence,
		Roles:       h.roles,
		Enforcement: h.controller,
		Feed:        h.feed,
		Cache:       h.cache,
		Clock:       h.clk,
		Logger:      zap.NewNop(),
	})

	ctx := context.Background()
	require.NoError(t, h.store.Roles.PutAssignment(ctx, domain.RoleAssignment{IdentityID: adminID, RoleID: domain.RoleAdmin, AssignedBy: ownerID, AssignedAt: t0}))
	require.NoError(t, h.store.Roles.PutAssignment(ctx, domain.RoleAssignment{IdentityID: modID, RoleID: domain.RoleModerator, AssignedBy: ownerID, AssignedAt: t0}))
	return h
}

func (h *harness) newLink() *remote.Link {
	return remote.NewLink(linkConfig(), map[string]remote.Prober{"store": h.mem}, h.clk, zap.NewNop(), h.metrics)
}

func (h *harness) newResolver() *SanctionResolver {
	return NewSanctionResolver(SanctionResolverDependencies{
		Store:        h.store,
		Feed:         h.feed,
		Link:         h.link,
		Cache:        h.cache,
		Dispatcher:   h.bus,
		Clock:        h.clk,
		Logger:       zap.NewNop(),
		Metrics:      h.metrics,
		PollInterval: 30 * time.Second,
	})
}

func (h *harness) newReaper(link RemoteLink) *Reaper {
	return NewReaper(ReaperDependencies{
		Store:            h.store,
		Feed:             h.feed,
		Link:             link,
		Dispatcher:       h.bus,
		Clock:            h.clk,
		Logger:           zap.NewNop(),
		Metrics:          h.metrics,
		OfflineThreshold: 2 * time.Minute,
		DeleteThreshold:  5 * time.Minute,
		CleanupInterval:  time.Minute,
	})
}

// countEvents subscribes a counter for eventType.
func (h *harness) countEvents(t *testing.T, eventType events.EventType) func() []events.Event {
	t.Helper()
	var (
		mu  sync.Mutex
		got []events.Event
	)
	unsubscribe := h.bus.Subscribe(eventType, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})
	t.Cleanup(unsubscribe)
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}
}

type recordingPresenter struct {
	mu        sync.Mutex
	sanctions []events.BanDetectedPayload
	blocking  []events.WarningCreatedPayload
	queued    []events.WarningCreatedPayload
	redirects []string
}

func (p *recordingPresenter) ShowSanction(identityID string, notice events.BanDetectedPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sanctions = append(p.sanctions, notice)
}

func (p *recordingPresenter) ShowBlockingWarning(identityID string, warning events.WarningCreatedPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocking = append(p.blocking, warning)
}

func (p *recordingPresenter) QueueWarning(identityID string, warning events.WarningCreatedPayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, warning)
}

func (p *recordingPresenter) Redirect(identityID, route string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirects = append(p.redirects, identityID+" -> "+route)
}

func (p *recordingPresenter) counts() (sanctions, blocking, queued, redirects int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sanctions), len(p.blocking), len(p.queued), len(p.redirects)
}
