package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	"github.com/spec-kit/moderation-service/internal/observability"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// Reaper marks idle identities offline and deletes dead sessions. Every
// write is a conditional set, so any number of reapers may run at once.
type Reaper struct {
	store            *repository.Store
	feed             repository.ChangeFeed
	link             RemoteLink
	dispatcher       events.Dispatcher
	clock            clock.Clock
	logger           *zap.Logger
	metrics          *observability.Metrics
	offlineThreshold time.Duration
	deleteThreshold  time.Duration
	interval         time.Duration
}

// ReaperDependencies bundles collaborators for the reaper.
type ReaperDependencies struct {
	Store      *repository.Store
	Feed       repository.ChangeFeed
	Link       RemoteLink
	Dispatcher events.Dispatcher
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// OfflineThreshold must be shorter than DeleteThreshold.
	OfflineThreshold time.Duration
	DeleteThreshold  time.Duration
	CleanupInterval  time.Duration
}

// NewReaper constructs the reaper.
func NewReaper(deps ReaperDependencies) *Reaper {
	return &Reaper{
		store:            deps.Store,
		feed:             deps.Feed,
		link:             deps.Link,
		dispatcher:       deps.Dispatcher,
		clock:            deps.Clock,
		logger:           deps.Logger.Named("reaper"),
		metrics:          deps.Metrics,
		offlineThreshold: deps.OfflineThreshold,
		deleteThreshold:  deps.DeleteThreshold,
		interval:         deps.CleanupInterval,
	}
}

// RunCycle scans every session once. Per-session failures are logged and
// skipped; only an unreachable store fails the cycle.
func (r *Reaper) RunCycle(ctx context.Context) (domain.CleanupSummary, error) {
	var summary domain.CleanupSummary
	if !r.link.Reachable() {
		return summary, apperrors.NewRemoteUnreachable(r.link.Diagnostic(), nil)
	}

	var sessions []domain.SessionRecord
	err := r.link.Do(ctx, "sessions.list", remote.OpRead, func(ctx context.Context) error {
		var err error
		sessions, err = r.store.Sessions.List(ctx)
		return err
	})
	if err != nil {
		return summary, err
	}

	now := r.clock.Now()
	for _, s := range sessions {
		idle := s.Idle(now)
		var deleted, wentOffline bool

		switch {
		case idle > r.deleteThreshold:
			err = runBatch(ctx, r.link, r.store, "sessions.reap", remote.OpWrite, func(tx repository.Repositories) error {
				var err error
				if deleted, err = tx.Sessions.DeleteIfStale(ctx, s.IdentityID, now.Add(-r.deleteThreshold)); err != nil {
					return err
				}
				wentOffline, err = tx.Profiles.SetOnline(ctx, s.IdentityID, false, now)
				return err
			})
		case idle > r.offlineThreshold:
			err = r.link.Do(ctx, "profiles.offline", remote.OpWrite, func(ctx context.Context) error {
				var err error
				wentOffline, err = r.store.Profiles.SetOnline(ctx, s.IdentityID, false, now)
				return err
			})
		default:
			continue
		}
		if err != nil {
			r.logger.Warn("reap session", zap.String("identity_id", s.IdentityID), zap.Error(err))
			continue
		}

		if deleted {
			summary.ExpiredSessions++
			notifyChange(ctx, r.feed, r.logger, repository.CollectionSessions, s.IdentityID, "reaped", now)
		}
		if wentOffline {
			summary.OfflineUsers++
			event := events.New(events.EventSessionStateChanged, s.IdentityID, s.IdentityID, now,
				events.SessionStateChangedPayload{IdentityID: s.IdentityID, IsOnline: false})
			if err := r.dispatcher.Publish(ctx, event); err != nil {
				r.logger.Warn("session state handlers failed", zap.String("identity_id", s.IdentityID), zap.Error(err))
			}
		}
	}

	r.metrics.ReaperCycle(summary.ExpiredSessions, summary.OfflineUsers)
	if summary.ExpiredSessions > 0 || summary.OfflineUsers > 0 {
		r.logger.Info("reaper cycle",
			zap.Int("expired_sessions", summary.ExpiredSessions),
			zap.Int("offline_users", summary.OfflineUsers),
		)
	}
	return summary, nil
}

// Start runs a cycle every cleanup interval while the store is reachable.
func (r *Reaper) Start(ctx context.Context) (stop func()) {
	return clock.Every(r.clock, r.interval, func() {
		if ctx.Err() != nil || !r.link.Reachable() {
			return
		}
		if _, err := r.RunCycle(ctx); err != nil {
			r.logger.Warn("reaper cycle failed", zap.Error(err))
		}
	})
}
