package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/moderation-service/internal/clock"
	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/remote"
	"github.com/spec-kit/moderation-service/internal/repository"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

const maxAuditPage = 200

// ModerationService is the administrative surface: bans, warnings,
// manual cleanup and the audit trail. Every write needs confirmed remote
// success; nothing here falls back to the cache.
type ModerationService struct {
	store    *repository.Store
	feed     repository.ChangeFeed
	link     RemoteLink
	roles    *RoleResolver
	resolver *SanctionResolver
	reaper   *Reaper
	clock    clock.Clock
	logger   *zap.Logger
	ownerID  string
}

// ModerationDependencies bundles collaborators for the moderation service.
type ModerationDependencies struct {
	Store           *repository.Store
	Feed            repository.ChangeFeed
	Link            RemoteLink
	Roles           *RoleResolver
	Resolver        *SanctionResolver
	Reaper          *Reaper
	Clock           clock.Clock
	Logger          *zap.Logger
	OwnerIdentityID string
}

// IssueBanInput describes a ban request.
type IssueBanInput struct {
	IdentityID string
	Reason     string
	Kind       domain.SanctionKind
	// Duration is required for temporary bans and ignored otherwise.
	Duration time.Duration
}

// IssueWarningInput describes a warning request.
type IssueWarningInput struct {
	IdentityID  string
	Title       string
	Message     string
	Severity    domain.WarningSeverity
	Dismissible bool
	// ExpiresIn is optional; zero means the warning never lapses.
	ExpiresIn time.Duration
}

// NewModerationService constructs the service.
func NewModerationService(deps ModerationDependencies) *ModerationService {
	return &ModerationService{
		store:    deps.Store,
		feed:     deps.Feed,
		link:     deps.Link,
		roles:    deps.Roles,
		resolver: deps.Resolver,
		reaper:   deps.Reaper,
		clock:    deps.Clock,
		logger:   deps.Logger.Named("moderation"),
		ownerID:  deps.OwnerIdentityID,
	}
}

// IssueBan writes the sanction, ends the target's session, marks it offline
// and records the audit entry in one batch. Reissuing a ban with the same
// reason and kind keeps its sanction id and only refreshes timestamps.
func (s *ModerationService) IssueBan(ctx context.Context, actorID string, in IssueBanInput) (*domain.SanctionRecord, error) {
	in.IdentityID = strings.TrimSpace(in.IdentityID)
	in.Reason = strings.TrimSpace(in.Reason)
	if in.IdentityID == "" || in.Reason == "" {
		return nil, apperrors.NewInvalidSanctionData("identity id and reason are required", nil)
	}
	if !in.Kind.Valid() {
		return nil, apperrors.NewInvalidSanctionData("unknown sanction kind", map[string]any{"kind": in.Kind})
	}
	if in.Kind == domain.SanctionTemporary && in.Duration <= 0 {
		return nil, apperrors.NewInvalidSanctionData("temporary ban requires a positive duration", nil)
	}
	if in.IdentityID == s.ownerID {
		return nil, apperrors.NewPermissionDenied("the owner cannot be banned")
	}
	if err := s.roles.Require(ctx, actorID, domain.PermBanIssue); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sanction := &domain.SanctionRecord{
		IdentityID: in.IdentityID,
		Reason:     in.Reason,
		Kind:       in.Kind,
		IssuedAt:   now,
		IssuedBy:   actorID,
	}
	if in.Kind == domain.SanctionTemporary {
		expires := now.Add(in.Duration)
		sanction.ExpiresAt = &expires
	}

	err := runBatch(ctx, s.link, s.store, "sanctions.issue", remote.OpCriticalWrite, func(tx repository.Repositories) error {
		sanction.SanctionID = domain.NewRecordID()
		existing, err := tx.Sanctions.GetByIdentity(ctx, in.IdentityID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case existing.Kind == in.Kind && existing.Reason == in.Reason && !existing.Expired(now):
			sanction.SanctionID = existing.SanctionID
		}

		if err := tx.Sanctions.Put(ctx, sanction); err != nil {
			return err
		}
		if _, err := tx.Sessions.Delete(ctx, in.IdentityID); err != nil {
			return err
		}
		if _, err := tx.Profiles.SetOnline(ctx, in.IdentityID, false, now); err != nil {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditBanIssued, in.IdentityID, map[string]any{
			"sanction_id": sanction.SanctionID,
			"reason":      sanction.Reason,
			"kind":        sanction.Kind,
			"expires_at":  sanction.ExpiresAt,
		}, now))
	})
	if err != nil {
		s.logger.Error("ban not persisted", zap.String("identity_id", in.IdentityID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("ban issued",
		zap.String("identity_id", in.IdentityID),
		zap.String("sanction_id", sanction.SanctionID),
		zap.String("actor_id", actorID),
	)
	notifyChange(ctx, s.feed, s.logger, repository.CollectionSanctions, in.IdentityID, "issued", now)
	notifyChange(ctx, s.feed, s.logger, repository.CollectionSessions, in.IdentityID, "deleted", now)
	return sanction, nil
}

// RevokeBan removes any sanction on identityID. Revoking an absent ban
// succeeds without effect.
func (s *ModerationService) RevokeBan(ctx context.Context, actorID, identityID string) error {
	if identityID == "" {
		return apperrors.NewValidationError("identity id is required", nil)
	}
	if err := s.roles.Require(ctx, actorID, domain.PermBanRevoke); err != nil {
		return err
	}

	now := s.clock.Now()
	var revoked bool
	err := runBatch(ctx, s.link, s.store, "sanctions.revoke", remote.OpCriticalWrite, func(tx repository.Repositories) error {
		existing, err := tx.Sanctions.GetByIdentity(ctx, identityID)
		if errors.Is(err, repository.ErrNotFound) {
			revoked = false
			return nil
		}
		if err != nil {
			return err
		}
		deleted, err := tx.Sanctions.Delete(ctx, identityID, existing.SanctionID)
		revoked = deleted
		if err != nil || !deleted {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditBanRevoked, identityID,
			map[string]any{"sanction_id": existing.SanctionID}, now))
	})
	if err != nil {
		return err
	}
	if revoked {
		s.logger.Info("ban revoked", zap.String("identity_id", identityID), zap.String("actor_id", actorID))
		notifyChange(ctx, s.feed, s.logger, repository.CollectionSanctions, identityID, "revoked", now)
	}
	return nil
}

// BanStatus resolves identityID on behalf of an administrator.
func (s *ModerationService) BanStatus(ctx context.Context, actorID, identityID string) (Resolution, error) {
	if err := s.roles.Require(ctx, actorID, domain.PermBanIssue); err != nil {
		return Resolution{}, err
	}
	return s.resolver.Resolve(ctx, identityID)
}

// IssueWarning records a warning. Terminal warnings are never dismissible.
func (s *ModerationService) IssueWarning(ctx context.Context, actorID string, in IssueWarningInput) (*domain.WarningRecord, error) {
	in.IdentityID = strings.TrimSpace(in.IdentityID)
	if in.IdentityID == "" || strings.TrimSpace(in.Title) == "" {
		return nil, apperrors.NewValidationError("identity id and title are required", nil)
	}
	if in.Severity == "" {
		in.Severity = domain.SeverityWarning
	}
	if !in.Severity.Valid() {
		return nil, apperrors.NewValidationError("unknown severity", map[string]any{"severity": in.Severity})
	}
	if err := s.roles.Require(ctx, actorID, domain.PermWarningIssue); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	warning := &domain.WarningRecord{
		ID:          domain.NewRecordID(),
		IdentityID:  in.IdentityID,
		Title:       strings.TrimSpace(in.Title),
		Message:     in.Message,
		Severity:    in.Severity,
		IssuedAt:    now,
		IssuedBy:    actorID,
		Dismissible: in.Dismissible && in.Severity != domain.SeverityTerminal,
	}
	if in.ExpiresIn > 0 {
		expires := now.Add(in.ExpiresIn)
		warning.ExpiresAt = &expires
	}

	err := runBatch(ctx, s.link, s.store, "warnings.issue", remote.OpWrite, func(tx repository.Repositories) error {
		if err := tx.Warnings.Create(ctx, warning); err != nil {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditWarningIssued, in.IdentityID, map[string]any{
			"warning_id": warning.ID,
			"severity":   warning.Severity,
		}, now))
	})
	if err != nil {
		return nil, err
	}
	notifyChange(ctx, s.feed, s.logger, repository.CollectionWarnings, in.IdentityID, "issued", now)
	return warning, nil
}

// AcknowledgeWarning marks a warning of identityID as seen. The first
// acknowledgement time is kept on repeat calls.
func (s *ModerationService) AcknowledgeWarning(ctx context.Context, identityID, warningID string) (*domain.WarningRecord, error) {
	var warning *domain.WarningRecord
	err := s.link.Do(ctx, "warnings.ack", remote.OpWrite, func(ctx context.Context) error {
		current, err := s.store.Warnings.Get(ctx, warningID)
		if err != nil {
			return err
		}
		if current.IdentityID != identityID {
			return repository.ErrNotFound
		}
		if !current.Dismissible {
			return apperrors.NewPermissionDenied("warning cannot be dismissed")
		}
		warning, err = s.store.Warnings.Acknowledge(ctx, warningID, s.clock.Now())
		return err
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("warning", map[string]any{"warning_id": warningID})
	}
	if err != nil {
		return nil, err
	}
	return warning, nil
}

// OutstandingWarnings lists unacknowledged, unexpired warnings of identityID.
func (s *ModerationService) OutstandingWarnings(ctx context.Context, identityID string) []domain.WarningRecord {
	return s.resolver.Warnings(ctx, identityID)
}

// TriggerCleanup runs one reaper cycle now and audits it.
func (s *ModerationService) TriggerCleanup(ctx context.Context, actorID string) (domain.CleanupSummary, error) {
	if err := s.roles.Require(ctx, actorID, domain.PermPresenceClean); err != nil {
		return domain.CleanupSummary{}, err
	}
	summary, err := s.reaper.RunCycle(ctx)
	if err != nil {
		return summary, err
	}

	now := s.clock.Now()
	entry := newAuditEntry(actorID, domain.AuditManualCleanup, "sessions", map[string]any{
		"expired_sessions": summary.ExpiredSessions,
		"offline_users":    summary.OfflineUsers,
	}, now)
	if err := s.link.Do(ctx, "audit.append", remote.OpWrite, func(ctx context.Context) error {
		return s.store.Audit.Append(ctx, entry)
	}); err != nil {
		s.logger.Warn("cleanup audit not recorded", zap.Error(err))
	}
	return summary, nil
}

// RecentAudit returns the newest audit entries first.
func (s *ModerationService) RecentAudit(ctx context.Context, actorID string, limit int) ([]domain.AuditEntry, error) {
	if err := s.roles.Require(ctx, actorID, domain.PermAuditRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	var entries []domain.AuditEntry
	err := s.link.Do(ctx, "audit.list", remote.OpRead, func(ctx context.Context) error {
		var err error
		entries, err = s.store.Audit.ListRecent(ctx, limit)
		return err
	})
	return entries, err
}
