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
	"github.com/spec-kit/moderation-service/internal/observability"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// ResolutionSource names where a resolution came from.
type ResolutionSource string

const (
	SourceRemote ResolutionSource = "remote"
	SourceCache  ResolutionSource = "cache"
	SourceNone   ResolutionSource = "none"
)

// Resolution is the ban status of an identity at a point in time.
type Resolution struct {
	Banned        bool                `json:"banned"`
	SanctionID    string              `json:"sanction_id,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	Kind          domain.SanctionKind `json:"kind,omitempty"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	TimeRemaining time.Duration       `json:"time_remaining,omitempty"`
	BannedAt      time.Time           `json:"banned_at,omitempty"`
	BannedBy      string              `json:"banned_by,omitempty"`
	Source        ResolutionSource    `json:"source"`
}

func resolutionFrom(rec *domain.SanctionRecord, now time.Time, source ResolutionSource) Resolution {
	if rec == nil {
		return Resolution{Source: source}
	}
	return Resolution{
		Banned:        true,
		SanctionID:    rec.SanctionID,
		Reason:        rec.Reason,
		Kind:          rec.Kind,
		ExpiresAt:     rec.ExpiresAt,
		TimeRemaining: rec.Remaining(now),
		BannedAt:      rec.IssuedAt,
		BannedBy:      rec.IssuedBy,
		Source:        source,
	}
}

// SanctionResolver answers whether an identity is banned, preferring the
// authoritative store and degrading to the local cache during outages.
type SanctionResolver struct {
	store        *repository.Store
	feed         repository.ChangeFeed
	link         RemoteLink
	cache        *cache.Cache
	dispatcher   events.Dispatcher
	clock        clock.Clock
	logger       *zap.Logger
	metrics      *observability.Metrics
	pollInterval time.Duration
}

// announcements remembers what one watch has already published, so pushed
// changes and poll ticks report each sanction and warning once.
type announcements struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newAnnouncements() *announcements {
	return &announcements{keys: make(map[string]struct{})}
}

// first records key and reports whether it was new.
func (a *announcements) first(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.keys[key]; seen {
		return false
	}
	a.keys[key] = struct{}{}
	return true
}

// SanctionResolverDependencies bundles collaborators for the resolver.
type SanctionResolverDependencies struct {
	Store        *repository.Store
	Feed         repository.ChangeFeed
	Link         RemoteLink
	Cache        *cache.Cache
	Dispatcher   events.Dispatcher
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	PollInterval time.Duration
}

// NewSanctionResolver constructs the resolver.
func NewSanctionResolver(deps SanctionResolverDependencies) *SanctionResolver {
	return &SanctionResolver{
		store:        deps.Store,
		feed:         deps.Feed,
		link:         deps.Link,
		cache:        deps.Cache,
		dispatcher:   deps.Dispatcher,
		clock:        deps.Clock,
		logger:       deps.Logger.Named("resolver"),
		metrics:      deps.Metrics,
		pollInterval: deps.PollInterval,
	}
}

// Resolve returns the ban status of identityID. Connectivity failures never
// surface here: the cached value is returned unchanged instead.
func (r *SanctionResolver) Resolve(ctx context.Context, identityID string) (Resolution, error) {
	if identityID == "" {
		return Resolution{}, apperrors.NewValidationError("identity id is required", nil)
	}
	if r.link.Reachable() {
		if res, ok := r.resolveRemote(ctx, identityID); ok {
			return res, nil
		}
	}
	return r.resolveCached(ctx, identityID), nil
}

func (r *SanctionResolver) resolveRemote(ctx context.Context, identityID string) (Resolution, bool) {
	var rec *domain.SanctionRecord
	err := r.link.Do(ctx, "sanctions.get", remote.OpRead, func(ctx context.Context) error {
		var err error
		rec, err = r.store.Sanctions.GetByIdentity(ctx, identityID)
		return err
	})
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rec = nil
	case err != nil:
		r.logger.Debug("remote sanction read failed; using cache",
			zap.String("identity_id", identityID),
			zap.Error(err),
		)
		return Resolution{}, false
	}

	now := r.clock.Now()
	if rec != nil {
		if err := rec.Validate(); err != nil {
			r.logger.Warn("skipping sanction record",
				zap.String("identity_id", identityID),
				zap.Error(apperrors.NewInvalidSanctionData(err.Error(), nil)),
			)
			return Resolution{}, false
		}
		if rec.Expired(now) {
			r.expire(ctx, rec, now)
			rec = nil
		}
	}

	if err := r.cache.PutSanction(ctx, identityID, rec, now); err != nil {
		r.logger.Warn("cache sanction", zap.String("identity_id", identityID), zap.Error(err))
	}
	return resolutionFrom(rec, now, SourceRemote), true
}

// expire removes a lapsed temporary sanction. The delete is conditional on
// the sanction id, so racing resolvers produce a single effective write.
func (r *SanctionResolver) expire(ctx context.Context, rec *domain.SanctionRecord, now time.Time) {
	var deleted bool
	err := runBatch(ctx, r.link, r.store, "sanctions.expire", remote.OpWrite, func(tx repository.Repositories) error {
		ok, err := tx.Sanctions.Delete(ctx, rec.IdentityID, rec.SanctionID)
		deleted = ok
		if err != nil || !ok {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(domain.SystemActor, domain.AuditBanExpired, rec.IdentityID,
			map[string]any{"sanction_id": rec.SanctionID, "expired_at": rec.ExpiresAt}, now))
	})
	if err != nil {
		// The record is already inert; the next resolve retries the delete.
		r.logger.Warn("expiry unban failed",
			zap.String("identity_id", rec.IdentityID),
			zap.String("sanction_id", rec.SanctionID),
			zap.Error(err),
		)
		return
	}
	if !deleted {
		return
	}
	r.metrics.ExpiryUnban()
	r.logger.Info("expired sanction removed",
		zap.String("identity_id", rec.IdentityID),
		zap.String("sanction_id", rec.SanctionID),
	)
	notifyChange(ctx, r.feed, r.logger, repository.CollectionSanctions, rec.IdentityID, "expired", now)
}

func (r *SanctionResolver) resolveCached(ctx context.Context, identityID string) Resolution {
	entry, ok, err := r.cache.Sanction(ctx, identityID)
	if err != nil {
		r.logger.Warn("read cached sanction", zap.String("identity_id", identityID), zap.Error(err))
		return Resolution{Source: SourceNone}
	}
	if !ok {
		return Resolution{Source: SourceNone}
	}
	now := r.clock.Now()
	if entry.Record != nil && entry.Record.Expired(now) {
		return Resolution{Source: SourceCache}
	}
	return resolutionFrom(entry.Record, now, SourceCache)
}

// check resolves identityID and publishes BanDetected the first time seen
// observes a sanction id as active.
func (r *SanctionResolver) check(ctx context.Context, identityID string, seen *announcements) Resolution {
	res, err := r.Resolve(ctx, identityID)
	if err != nil {
		r.logger.Warn("resolve", zap.String("identity_id", identityID), zap.Error(err))
		return res
	}
	if res.Banned && ctx.Err() == nil && seen.first("ban:"+res.SanctionID) {
		r.announceBan(ctx, identityID, res)
	}
	return res
}

func (r *SanctionResolver) announceBan(ctx context.Context, identityID string, res Resolution) {

	r.metrics.BanDetected()
	r.logger.Info("ban detected",
		zap.String("identity_id", identityID),
		zap.String("sanction_id", res.SanctionID),
		zap.String("source", string(res.Source)),
	)
	event := events.New(events.EventBanDetected, res.SanctionID, identityID, r.clock.Now(), events.BanDetectedPayload{
		SanctionID:    res.SanctionID,
		Reason:        res.Reason,
		Kind:          res.Kind,
		ExpiresAt:     res.ExpiresAt,
		TimeRemaining: res.TimeRemaining,
		BannedAt:      res.BannedAt,
		BannedBy:      res.BannedBy,
	})
	if err := r.dispatcher.Publish(ctx, event); err != nil {
		r.logger.Warn("ban detected handlers failed", zap.String("sanction_id", res.SanctionID), zap.Error(err))
	}
}

// Warnings returns the outstanding warnings of identityID, remote first.
func (r *SanctionResolver) Warnings(ctx context.Context, identityID string) []domain.WarningRecord {
	var (
		list       []domain.WarningRecord
		fromRemote bool
	)
	if r.link.Reachable() {
		err := r.link.Do(ctx, "warnings.list", remote.OpRead, func(ctx context.Context) error {
			var err error
			list, err = r.store.Warnings.ListByIdentity(ctx, identityID)
			return err
		})
		if err == nil {
			fromRemote = true
			if err := r.cache.PutWarnings(ctx, identityID, list); err != nil {
				r.logger.Warn("cache warnings", zap.String("identity_id", identityID), zap.Error(err))
			}
		}
	}
	if !fromRemote {
		cached, _, err := r.cache.Warnings(ctx, identityID)
		if err != nil {
			r.logger.Warn("read cached warnings", zap.String("identity_id", identityID), zap.Error(err))
		}
		list = cached
	}

	now := r.clock.Now()
	outstanding := make([]domain.WarningRecord, 0, len(list))
	for _, w := range list {
		if w.Outstanding(now) {
			outstanding = append(outstanding, w)
		}
	}
	return outstanding
}

// checkWarnings publishes WarningCreated for outstanding warnings seen has
// not reported yet.
func (r *SanctionResolver) checkWarnings(ctx context.Context, identityID string, seen *announcements) {
	for _, w := range r.Warnings(ctx, identityID) {
		if ctx.Err() != nil {
			return
		}
		if !seen.first("warning:" + w.ID) {
			continue
		}

		event := events.New(events.EventWarningCreated, w.ID, identityID, r.clock.Now(), events.WarningCreatedPayload{
			ID:          w.ID,
			Severity:    w.Severity,
			Title:       w.Title,
			Message:     w.Message,
			Dismissible: w.Dismissible,
		})
		if err := r.dispatcher.Publish(ctx, event); err != nil {
			r.logger.Warn("warning handlers failed", zap.String("warning_id", w.ID), zap.Error(err))
		}
	}
}

// Watch checks identityID now, on every pushed change to its sanction or
// warnings, and every poll interval. Each watch announces a sanction or
// warning once; a later watch of the same identity announces it again.
// Topics whose subscription failed are retried on every poll tick. stop
// removes the subscriptions and the poll timer before returning.
func (r *SanctionResolver) Watch(ctx context.Context, identityID string) (stop func(), err error) {
	if identityID == "" {
		return nil, apperrors.NewValidationError("identity id is required", nil)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	seen := newAnnouncements()

	check := func() {
		if watchCtx.Err() != nil {
			return
		}
		r.check(watchCtx, identityID, seen)
		r.checkWarnings(watchCtx, identityID, seen)
	}

	sub := newFeedSubscription(watchCtx, r.feed, r.logger, func(repository.Change) { check() },
		repository.Topic(repository.CollectionSanctions, identityID),
		repository.Topic(repository.CollectionWarnings, identityID),
	)
	sub.ensure()
	stopPoll := clock.Every(r.clock, r.pollInterval, func() {
		sub.ensure()
		check()
	})

	check()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			stopPoll()
			sub.close()
		})
	}, nil
}
