package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/cache"
	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

type trackedSession struct {
	identity     domain.Identity
	state        domain.PresenceState
	startedAt    time.Time
	lastRemoteOK time.Time
	stop         func()
}

// PresenceTracker keeps the session record of locally active identities
// alive with periodic heartbeats.
type PresenceTracker struct {
	store             *repository.Store
	feed              repository.ChangeFeed
	link              RemoteLink
	cache             *cache.Cache
	dispatcher        events.Dispatcher
	clock             clock.Clock
	logger            *zap.Logger
	heartbeatInterval time.Duration
	staleAfter        time.Duration

	mu       sync.Mutex
	sessions map[string]*trackedSession
}

// PresenceTrackerDependencies bundles collaborators for the tracker.
type PresenceTrackerDependencies struct {
	Store             *repository.Store
	Feed              repository.ChangeFeed
	Link              RemoteLink
	Cache             *cache.Cache
	Dispatcher        events.Dispatcher
	Clock             clock.Clock
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
	// StaleAfter is how long heartbeats may fail before the session is
	// flagged STALE_WARN. Usually the reaper's offline threshold.
	StaleAfter time.Duration
}

// NewPresenceTracker constructs the tracker.
func NewPresenceTracker(deps PresenceTrackerDependencies) *PresenceTracker {
	return &PresenceTracker{
		store:             deps.Store,
		feed:              deps.Feed,
		link:              deps.Link,
		cache:             deps.Cache,
		dispatcher:        deps.Dispatcher,
		clock:             deps.Clock,
		logger:            deps.Logger.Named("presence"),
		heartbeatInterval: deps.HeartbeatInterval,
		staleAfter:        deps.StaleAfter,
		sessions:          make(map[string]*trackedSession),
	}
}

// State returns the presence state of identityID in this process.
func (t *PresenceTracker) State(identityID string) domain.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[identityID]; ok {
		return s.state
	}
	return domain.PresenceOffline
}

// Start opens a session for identity and schedules heartbeats. The session
// stays STARTING until the remote record has been written.
func (t *PresenceTracker) Start(ctx context.Context, identity domain.Identity) error {
	if identity.IsZero() {
		return apperrors.NewValidationError("identity id is required", nil)
	}
	now := t.clock.Now()

	t.mu.Lock()
	if _, ok := t.sessions[identity.ID]; ok {
		t.mu.Unlock()
		return nil
	}
	s := &trackedSession{
		identity:     identity,
		state:        domain.PresenceStarting,
		startedAt:    now,
		lastRemoteOK: now,
	}
	t.sessions[identity.ID] = s
	t.mu.Unlock()

	t.beat(ctx, identity.ID)

	stop := clock.Every(t.clock, t.heartbeatInterval, func() {
		t.beat(context.Background(), identity.ID)
	})
	t.mu.Lock()
	s.stop = stop
	t.mu.Unlock()
	return nil
}

// beat refreshes the session locally and remotely. From STARTING it creates
// the remote record; otherwise it only advances lastHeartbeatAt.
func (t *PresenceTracker) beat(ctx context.Context, identityID string) {
	t.mu.Lock()
	s, ok := t.sessions[identityID]
	if !ok {
		t.mu.Unlock()
		return
	}
	identity, state, startedAt := s.identity, s.state, s.startedAt
	t.mu.Unlock()

	now := t.clock.Now()
	rec := domain.SessionRecord{IdentityID: identityID, StartedAt: startedAt, LastHeartbeatAt: now}
	if err := t.cache.PutSession(ctx, rec); err != nil {
		t.logger.Warn("cache session", zap.String("identity_id", identityID), zap.Error(err))
	}

	starting := state == domain.PresenceStarting
	var cameOnline bool
	err := runBatch(ctx, t.link, t.store, "sessions.heartbeat", remote.OpWrite, func(tx repository.Repositories) error {
		if starting {
			if err := tx.Profiles.Ensure(ctx, identity, now); err != nil {
				return err
			}
		}
		if err := tx.Sessions.Upsert(ctx, rec, starting); err != nil {
			return err
		}
		changed, err := tx.Profiles.SetOnline(ctx, identityID, true, now)
		if err != nil {
			return err
		}
		cameOnline = changed
		return tx.Profiles.TouchLastActive(ctx, identityID, now)
	})

	t.mu.Lock()
	current, tracked := t.sessions[identityID]
	if !tracked || current != s {
		t.mu.Unlock()
		return
	}
	if err != nil {
		if s.state == domain.PresenceActive && now.Sub(s.lastRemoteOK) > t.staleAfter {
			s.state = domain.PresenceStaleWarn
			t.logger.Warn("presence heartbeats failing; session may be reaped",
				zap.String("identity_id", identityID),
				zap.Duration("since_last_success", now.Sub(s.lastRemoteOK)),
			)
		}
		t.mu.Unlock()
		t.logger.Debug("heartbeat failed", zap.String("identity_id", identityID), zap.Error(err))
		return
	}
	s.state = domain.PresenceActive
	s.lastRemoteOK = now
	t.mu.Unlock()

	if cameOnline {
		if starting {
			notifyChange(ctx, t.feed, t.logger, repository.CollectionSessions, identityID, "started", now)
		}
		t.publishState(ctx, identityID, true)
	}
}

// Logout ends the session: accumulates its duration into the profile,
// deletes the record and stops heartbeats. Local state is torn down even
// when the remote write fails; the error is returned to the caller.
func (t *PresenceTracker) Logout(ctx context.Context, identityID string) error {
	t.mu.Lock()
	s, tracked := t.sessions[identityID]
	delete(t.sessions, identityID)
	t.mu.Unlock()

	var startedAt time.Time
	if tracked {
		if s.stop != nil {
			s.stop()
		}
		startedAt = s.startedAt
	} else if cached, ok, _ := t.cache.Session(ctx, identityID); ok {
		startedAt = cached.StartedAt
	}

	now := t.clock.Now()
	err := runBatch(ctx, t.link, t.store, "sessions.logout", remote.OpWrite, func(tx repository.Repositories) error {
		started := startedAt
		if started.IsZero() {
			rec, err := tx.Sessions.Get(ctx, identityID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return err
			default:
				started = rec.StartedAt
			}
		}
		if !started.IsZero() {
			if err := tx.Profiles.AddOnlineTime(ctx, identityID, int64(now.Sub(started)/time.Second)); err != nil {
				return err
			}
		}
		if _, err := tx.Sessions.Delete(ctx, identityID); err != nil {
			return err
		}
		if _, err := tx.Profiles.SetOnline(ctx, identityID, false, now); err != nil {
			return err
		}
		return tx.Profiles.TouchLastActive(ctx, identityID, now)
	})

	if cacheErr := t.cache.DeleteSession(ctx, identityID); cacheErr != nil {
		t.logger.Warn("drop cached session", zap.String("identity_id", identityID), zap.Error(cacheErr))
	}
	t.publishState(ctx, identityID, false)
	if err != nil {
		t.logger.Warn("logout not persisted", zap.String("identity_id", identityID), zap.Error(err))
		return err
	}
	notifyChange(ctx, t.feed, t.logger, repository.CollectionSessions, identityID, "deleted", now)
	return nil
}

// Stop cancels heartbeats for identityID without touching remote state.
func (t *PresenceTracker) Stop(identityID string) {
	t.mu.Lock()
	s, ok := t.sessions[identityID]
	delete(t.sessions, identityID)
	t.mu.Unlock()
	if ok && s.stop != nil {
		s.stop()
	}
}

func (t *PresenceTracker) publishState(ctx context.Context, identityID string, online bool) {
	event := events.New(events.EventSessionStateChanged, identityID, identityID, t.clock.Now(),
		events.SessionStateChangedPayload{IdentityID: identityID, IsOnline: online})
	if err := t.dispatcher.Publish(ctx, event); err != nil {
		t.logger.Warn("session state handlers failed", zap.String("identity_id", identityID), zap.Error(err))
	}
}
