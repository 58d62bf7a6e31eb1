package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
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

var fixedRolePermissions = map[domain.RoleID]domain.PermissionSet{
	domain.RoleOwner: domain.NewPermissionSet(domain.AllPermissions...),
	domain.RoleAdmin: domain.NewPermissionSet(domain.AllPermissions...),
	domain.RoleModerator: domain.NewPermissionSet(
		domain.PermBanIssue,
		domain.PermBanRevoke,
		domain.PermWarningIssue,
		domain.PermContentModerate,
		domain.PermAuditRead,
	),
	domain.RoleDefault: domain.NewPermissionSet(),
}

var roleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// RoleResolver maps identities to roles and permissions and manages
// assignments and custom role definitions.
type RoleResolver struct {
	store      *repository.Store
	feed       repository.ChangeFeed
	link       RemoteLink
	cache      *cache.Cache
	dispatcher events.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	ownerID    string
}

// RoleResolverDependencies bundles collaborators for the role resolver.
type RoleResolverDependencies struct {
	Store           *repository.Store
	Feed            repository.ChangeFeed
	Link            RemoteLink
	Cache           *cache.Cache
	Dispatcher      events.Dispatcher
	Clock           clock.Clock
	Logger          *zap.Logger
	OwnerIdentityID string
}

// RoleDefinitionInput describes a custom role to create or replace.
type RoleDefinitionInput struct {
	ID          domain.RoleID
	DisplayName string
	Color       string
	Permissions []domain.Permission
}

// NewRoleResolver constructs the resolver.
func NewRoleResolver(deps RoleResolverDependencies) *RoleResolver {
	return &RoleResolver{
		store:      deps.Store,
		feed:       deps.Feed,
		link:       deps.Link,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("roles"),
		ownerID:    deps.OwnerIdentityID,
	}
}

// RoleOf returns the role of identityID. Missing assignments mean default.
func (r *RoleResolver) RoleOf(ctx context.Context, identityID string) (domain.RoleID, error) {
	entry, err := r.resolve(ctx, identityID)
	return entry.RoleID, err
}

// PermissionsOf returns the capability set of identityID.
func (r *RoleResolver) PermissionsOf(ctx context.Context, identityID string) (domain.PermissionSet, error) {
	entry, err := r.resolve(ctx, identityID)
	if err != nil {
		return domain.NewPermissionSet(), err
	}
	return domain.NewPermissionSet(entry.Permissions...), nil
}

// Require fails with PermissionsInsufficient unless actorID holds perm.
func (r *RoleResolver) Require(ctx context.Context, actorID string, perm domain.Permission) error {
	perms, err := r.PermissionsOf(ctx, actorID)
	if err != nil {
		return err
	}
	if !perms.Has(perm) {
		return apperrors.NewPermissionsInsufficient(string(perm))
	}
	return nil
}

func (r *RoleResolver) resolve(ctx context.Context, identityID string) (cache.RoleEntry, error) {
	if identityID == "" {
		return cache.RoleEntry{}, apperrors.NewValidationError("identity id is required", nil)
	}
	if identityID == r.ownerID {
		return cache.RoleEntry{RoleID: domain.RoleOwner, Permissions: fixedRolePermissions[domain.RoleOwner].List()}, nil
	}

	if r.link.Reachable() {
		entry, err := r.resolveRemote(ctx, identityID)
		if err == nil {
			if cacheErr := r.cache.PutRole(ctx, identityID, entry); cacheErr != nil {
				r.logger.Warn("cache role", zap.String("identity_id", identityID), zap.Error(cacheErr))
			}
			return entry, nil
		}
		if !errors.Is(err, apperrors.ErrRemoteUnreachable) {
			return cache.RoleEntry{}, err
		}
	}

	if entry, ok, err := r.cache.Role(ctx, identityID); err == nil && ok {
		return entry, nil
	}
	return cache.RoleEntry{RoleID: domain.RoleDefault}, nil
}

func (r *RoleResolver) resolveRemote(ctx context.Context, identityID string) (cache.RoleEntry, error) {
	entry := cache.RoleEntry{RoleID: domain.RoleDefault, FetchedAt: r.clock.Now()}
	err := r.link.Do(ctx, "roles.get", remote.OpRead, func(ctx context.Context) error {
		assignment, err := r.store.Roles.GetAssignment(ctx, identityID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		entry.RoleID = assignment.RoleID
		if entry.RoleID.IsFixed() {
			return nil
		}
		def, err := r.store.Roles.GetDefinition(ctx, entry.RoleID)
		if errors.Is(err, repository.ErrNotFound) {
			r.logger.Warn("assigned role has no definition; treating as default",
				zap.String("identity_id", identityID),
				zap.String("role_id", string(entry.RoleID)),
			)
			entry.RoleID = domain.RoleDefault
			return nil
		}
		if err != nil {
			return err
		}
		entry.Permissions = knownPermissions(def.Permissions)
		return nil
	})
	if err != nil {
		return cache.RoleEntry{}, err
	}
	if set, fixed := fixedRolePermissions[entry.RoleID]; fixed {
		entry.Permissions = set.List()
	}
	return entry, nil
}

// Assign gives targetID roleID. The owner role and the owner identity are
// never changed through this path.
func (r *RoleResolver) Assign(ctx context.Context, actorID, targetID string, roleID domain.RoleID) (*domain.RoleAssignment, error) {
	if roleID == domain.RoleOwner || targetID == r.ownerID {
		return nil, apperrors.NewFixedRoleError(string(domain.RoleOwner))
	}
	if targetID == "" || roleID == "" {
		return nil, apperrors.NewValidationError("identity id and role id are required", nil)
	}
	if err := r.Require(ctx, actorID, domain.PermRoleAssign); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	assignment := domain.RoleAssignment{IdentityID: targetID, RoleID: roleID, AssignedBy: actorID, AssignedAt: now}
	err := runBatch(ctx, r.link, r.store, "roles.assign", remote.OpWrite, func(tx repository.Repositories) error {
		if !roleID.IsFixed() {
			if _, err := tx.Roles.GetDefinition(ctx, roleID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return apperrors.NewNotFound("role", map[string]any{"role_id": roleID})
				}
				return err
			}
		}
		if roleID == domain.RoleDefault {
			if _, err := tx.Roles.DeleteAssignment(ctx, targetID); err != nil {
				return err
			}
		} else if err := tx.Roles.PutAssignment(ctx, assignment); err != nil {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditRoleAssigned, targetID,
			map[string]any{"role_id": roleID}, now))
	})
	if err != nil {
		return nil, err
	}

	r.changed(ctx, targetID, roleID, now)
	return &assignment, nil
}

// Revoke returns targetID to the default role. Revoking an absent
// assignment succeeds without effect.
func (r *RoleResolver) Revoke(ctx context.Context, actorID, targetID string) error {
	if targetID == r.ownerID {
		return apperrors.NewFixedRoleError(string(domain.RoleOwner))
	}
	if targetID == "" {
		return apperrors.NewValidationError("identity id is required", nil)
	}
	if err := r.Require(ctx, actorID, domain.PermRoleAssign); err != nil {
		return err
	}

	now := r.clock.Now()
	var revoked bool
	err := runBatch(ctx, r.link, r.store, "roles.revoke", remote.OpWrite, func(tx repository.Repositories) error {
		deleted, err := tx.Roles.DeleteAssignment(ctx, targetID)
		revoked = deleted
		if err != nil || !deleted {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditRoleRevoked, targetID, nil, now))
	})
	if err != nil {
		return err
	}
	if revoked {
		r.changed(ctx, targetID, domain.RoleDefault, now)
	}
	return nil
}

// DefineRole creates or replaces a custom role definition.
func (r *RoleResolver) DefineRole(ctx context.Context, actorID string, in RoleDefinitionInput) (*domain.RoleDefinition, error) {
	id := domain.RoleID(strings.ToLower(strings.TrimSpace(string(in.ID))))
	if id.IsFixed() {
		return nil, apperrors.NewFixedRoleError(string(id))
	}
	if !roleIDPattern.MatchString(string(id)) {
		return nil, apperrors.NewValidationError("invalid role id", map[string]any{"role_id": in.ID})
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, apperrors.NewValidationError("display name is required", nil)
	}
	for _, p := range in.Permissions {
		if !domain.KnownPermission(p) {
			return nil, apperrors.NewValidationError("unknown permission", map[string]any{"permission": p})
		}
	}
	if err := r.Require(ctx, actorID, domain.PermRoleDefine); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	def := domain.RoleDefinition{
		ID:          id,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Color:       in.Color,
		Permissions: domain.NewPermissionSet(in.Permissions...).List(),
		CreatedBy:   actorID,
		CreatedAt:   now,
	}
	err := runBatch(ctx, r.link, r.store, "roles.define", remote.OpWrite, func(tx repository.Repositories) error {
		if err := tx.Roles.PutDefinition(ctx, def); err != nil {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditRoleDefined, string(id),
			map[string]any{"permissions": def.Permissions}, now))
	})
	if err != nil {
		return nil, err
	}
	notifyChange(ctx, r.feed, r.logger, repository.CollectionRoles, "", "defined", now)
	return &def, nil
}

// ListDefinitions returns every custom role.
func (r *RoleResolver) ListDefinitions(ctx context.Context, actorID string) ([]domain.RoleDefinition, error) {
	perms, err := r.PermissionsOf(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !perms.Has(domain.PermRoleDefine) && !perms.Has(domain.PermRoleAssign) {
		return nil, apperrors.NewPermissionsInsufficient(string(domain.PermRoleDefine))
	}

	var defs []domain.RoleDefinition
	err = r.link.Do(ctx, "roles.list", remote.OpRead, func(ctx context.Context) error {
		var err error
		defs, err = r.store.Roles.ListDefinitions(ctx)
		return err
	})
	return defs, err
}

// DeleteDefinition removes a custom role. Identities still assigned to it
// resolve to default permissions.
func (r *RoleResolver) DeleteDefinition(ctx context.Context, actorID string, roleID domain.RoleID) error {
	if roleID.IsFixed() {
		return apperrors.NewFixedRoleError(string(roleID))
	}
	if err := r.Require(ctx, actorID, domain.PermRoleDefine); err != nil {
		return err
	}

	now := r.clock.Now()
	var deleted bool
	err := runBatch(ctx, r.link, r.store, "roles.undefine", remote.OpWrite, func(tx repository.Repositories) error {
		ok, err := tx.Roles.DeleteDefinition(ctx, roleID)
		deleted = ok
		if err != nil || !ok {
			return err
		}
		return tx.Audit.Append(ctx, newAuditEntry(actorID, domain.AuditRoleDeleted, string(roleID), nil, now))
	})
	if err != nil {
		return err
	}
	if deleted {
		notifyChange(ctx, r.feed, r.logger, repository.CollectionRoles, "", "deleted", now)
	}
	return nil
}

// Refresh re-resolves identityID and publishes RoleChanged.
func (r *RoleResolver) Refresh(ctx context.Context, identityID string) {
	entry, err := r.resolve(ctx, identityID)
	if err != nil {
		r.logger.Warn("refresh role", zap.String("identity_id", identityID), zap.Error(err))
		return
	}
	r.publish(ctx, identityID, entry.RoleID)
}

func (r *RoleResolver) changed(ctx context.Context, identityID string, roleID domain.RoleID, at time.Time) {
	notifyChange(ctx, r.feed, r.logger, repository.CollectionRoles, identityID, "assigned", at)
	r.publish(ctx, identityID, roleID)
}

func (r *RoleResolver) publish(ctx context.Context, identityID string, roleID domain.RoleID) {
	event := events.New(events.EventRoleChanged, identityID, identityID, r.clock.Now(),
		events.RoleChangedPayload{IdentityID: identityID, RoleID: roleID})
	if err := r.dispatcher.Publish(ctx, event); err != nil {
		r.logger.Warn("role changed handlers failed", zap.String("identity_id", identityID), zap.Error(err))
	}
}

func knownPermissions(perms []domain.Permission) []domain.Permission {
	out := make([]domain.Permission, 0, len(perms))
	for _, p := range perms {
		if domain.KnownPermission(p) {
			out = append(out, p)
		}
	}
	return out
}
