package repository

import (
	"context"
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

// ErrNotFound is returned by every repository when a document is absent.
var ErrNotFound = apperrors.ErrNotFound

// SanctionRepository reads and removes ban records. Writes go through a batch.
type SanctionRepository interface {
	GetByIdentity(ctx context.Context, identityID string) (*domain.SanctionRecord, error)
	Put(ctx context.Context, sanction *domain.SanctionRecord) error
	// Delete removes the identity's sanction. A non-empty sanctionID makes
	// the delete conditional on that exact record. Reports whether a row
	// was removed; absence is not an error.
	Delete(ctx context.Context, identityID, sanctionID string) (bool, error)
}

// SessionRepository stores heartbeat-backed sessions.
type SessionRepository interface {
	Get(ctx context.Context, identityID string) (*domain.SessionRecord, error)
	// Upsert creates the session or, when it exists, only refreshes
	// LastHeartbeatAt. StartedAt of an existing row is preserved unless
	// reset is true.
	Upsert(ctx context.Context, session domain.SessionRecord, reset bool) error
	Delete(ctx context.Context, identityID string) (bool, error)
	// DeleteIfStale removes the session only when its last heartbeat is
	// older than cutoff, so a concurrent heartbeat wins over the reaper.
	DeleteIfStale(ctx context.Context, identityID string, cutoff time.Time) (bool, error)
	List(ctx context.Context) ([]domain.SessionRecord, error)
}

// ProfileRepository stores presence flags and online statistics.
type ProfileRepository interface {
	Get(ctx context.Context, identityID string) (*domain.Profile, error)
	Ensure(ctx context.Context, identity domain.Identity, at time.Time) error
	// SetOnline sets the flag to the given value and reports whether it changed.
	SetOnline(ctx context.Context, identityID string, online bool, at time.Time) (bool, error)
	TouchLastActive(ctx context.Context, identityID string, at time.Time) error
	AddOnlineTime(ctx context.Context, identityID string, seconds int64) error
}

// RoleRepository stores assignments and custom role definitions.
type RoleRepository interface {
	GetAssignment(ctx context.Context, identityID string) (*domain.RoleAssignment, error)
	PutAssignment(ctx context.Context, assignment domain.RoleAssignment) error
	DeleteAssignment(ctx context.Context, identityID string) (bool, error)
	GetDefinition(ctx context.Context, roleID domain.RoleID) (*domain.RoleDefinition, error)
	ListDefinitions(ctx context.Context) ([]domain.RoleDefinition, error)
	PutDefinition(ctx context.Context, def domain.RoleDefinition) error
	DeleteDefinition(ctx context.Context, roleID domain.RoleID) (bool, error)
}

// WarningRepository stores warning notices.
type WarningRepository interface {
	Create(ctx context.Context, warning *domain.WarningRecord) error
	Get(ctx context.Context, warningID string) (*domain.WarningRecord, error)
	ListByIdentity(ctx context.Context, identityID string) ([]domain.WarningRecord, error)
	// Acknowledge sets AcknowledgedAt once; later calls keep the first value.
	Acknowledge(ctx context.Context, warningID string, at time.Time) (*domain.WarningRecord, error)
}

// AuditRepository appends and lists audit entries.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// Repositories groups every collection of the authoritative store.
type Repositories struct {
	Sanctions SanctionRepository
	Sessions  SessionRepository
	Profiles  ProfileRepository
	Roles     RoleRepository
	Warnings  WarningRepository
	Audit     AuditRepository
}

// Batcher runs fn atomically: either every write made through tx is
// applied or none is. Write conflicts surface as ErrConcurrentModification.
type Batcher interface {
	RunBatch(ctx context.Context, fn func(tx Repositories) error) error
}

// Store is the authoritative store as seen by the services.
type Store struct {
	Repositories
	Batches Batcher
}
