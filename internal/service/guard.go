package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/cache"
	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/repository"
)

// Guard binds the moderation core to the identity this process acts as.
// Activate is the "current identity changed" hook; Deactivate is unmount.
type Guard struct {
	resolver    *SanctionResolver
	presence    *PresenceTracker
	roles       *RoleResolver
	feed        repository.ChangeFeed
	cache       *cache.Cache
	clock       clock.Clock
	logger      *zap.Logger
	resubscribe time.Duration

	mu      sync.Mutex
	current domain.Identity
	stops   []func()
}

// GuardDependencies bundles collaborators for the guard.
type GuardDependencies struct {
	Resolver    *SanctionResolver
	Presence    *PresenceTracker
	Roles       *RoleResolver
	Enforcement *EnforcementController
	Feed        repository.ChangeFeed
	Cache       *cache.Cache
	Clock       clock.Clock
	Logger      *zap.Logger
	// ResubscribeInterval is how often a failed role feed subscription is
	// retried. Zero means defaultResubscribeInterval.
	ResubscribeInterval time.Duration
}

const defaultResubscribeInterval = 30 * time.Second

// NewGuard constructs the guard and hooks it to enforcement teardowns.
func NewGuard(deps GuardDependencies) *Guard {
	g := &Guard{
		resolver:    deps.Resolver,
		presence:    deps.Presence,
		roles:       deps.Roles,
		feed:        deps.Feed,
		cache:       deps.Cache,
		clock:       deps.Clock,
		logger:      deps.Logger.Named("guard"),
		resubscribe: deps.ResubscribeInterval,
	}
	if g.clock == nil {
		g.clock = clock.Real()
	}
	if g.resubscribe <= 0 {
		g.resubscribe = defaultResubscribeInterval
	}
	if deps.Enforcement != nil {
		deps.Enforcement.OnTeardown(g.onTeardown)
	}
	return g
}

// Current returns the active identity, or the zero value.
func (g *Guard) Current() domain.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Activate switches the guard to identity: heartbeats, ban and warning
// watches and role change notifications start for it. Activating the
// current identity again is a no-op.
func (g *Guard) Activate(ctx context.Context, identity domain.Identity) error {
	g.mu.Lock()
	if !identity.IsZero() && g.current.ID == identity.ID {
		g.mu.Unlock()
		return nil
	}
	g.deactivateLocked()
	g.current = identity
	g.mu.Unlock()
	if identity.IsZero() {
		return nil
	}

	if err := g.cache.SetCurrentIdentity(ctx, identity); err != nil {
		g.logger.Warn("cache current identity", zap.String("identity_id", identity.ID), zap.Error(err))
	}

	var stops []func()
	if err := g.presence.Start(ctx, identity); err != nil {
		g.abandon(identity, stops)
		return err
	}
	stops = append(stops, func() { g.presence.Stop(identity.ID) })

	if g.feed != nil {
		roleFeed := newFeedSubscription(ctx, g.feed, g.logger.With(zap.String("identity_id", identity.ID)),
			func(repository.Change) { g.roles.Refresh(context.Background(), identity.ID) },
			repository.Topic(repository.CollectionRoles, identity.ID),
		)
		roleFeed.ensure()
		stopRetry := clock.Every(g.clock, g.resubscribe, func() { roleFeed.ensure() })
		stops = append(stops, func() {
			stopRetry()
			roleFeed.close()
		})
	}

	// The first ban check runs inside Watch and may already tear the
	// identity down, so the guard lock is not held here.
	stopWatch, err := g.resolver.Watch(ctx, identity.ID)
	if err != nil {
		g.abandon(identity, stops)
		return err
	}
	stops = append(stops, stopWatch)

	g.mu.Lock()
	if g.current.ID != identity.ID {
		g.mu.Unlock()
		runStops(stops)
		return nil
	}
	g.stops = stops
	g.mu.Unlock()

	g.logger.Info("identity activated", zap.String("identity_id", identity.ID))
	return nil
}

func (g *Guard) abandon(identity domain.Identity, stops []func()) {
	runStops(stops)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current.ID == identity.ID {
		g.current = domain.Identity{}
	}
}

func runStops(stops []func()) {
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
}

// Deactivate stops every timer and subscription of the current identity
// without writing remote state.
func (g *Guard) Deactivate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deactivateLocked()
}

func (g *Guard) deactivateLocked() {
	runStops(g.stops)
	g.stops = nil
	g.current = domain.Identity{}
}

// Logout ends the current identity's session and forgets it locally.
func (g *Guard) Logout(ctx context.Context) error {
	g.mu.Lock()
	identity, stops := g.current, g.stops
	g.current, g.stops = domain.Identity{}, nil
	g.mu.Unlock()

	if identity.IsZero() {
		return nil
	}
	// Logout needs the tracked start time, so it runs before the stops.
	err := g.presence.Logout(ctx, identity.ID)
	runStops(stops)
	if clearErr := g.cache.ClearCurrentIdentity(ctx); clearErr != nil {
		g.logger.Warn("clear current identity", zap.Error(clearErr))
	}
	return err
}

func (g *Guard) onTeardown(ctx context.Context, identityID string) {
	if g.Current().ID != identityID {
		return
	}
	if err := g.Logout(ctx); err != nil {
		g.logger.Warn("logout after enforcement", zap.String("identity_id", identityID), zap.Error(err))
	}
}
