package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/events"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

func TestFixedRolePermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		identity string
		role     domain.RoleID
		allowed  []domain.Permission
		denied   []domain.Permission
	}{
		{ownerID, domain.RoleOwner, domain.AllPermissions, nil},
		{adminID, domain.RoleAdmin, domain.AllPermissions, nil},
		{modID, domain.RoleModerator,
			[]domain.Permission{domain.PermBanIssue, domain.PermWarningIssue, domain.PermAuditRead},
			[]domain.Permission{domain.PermRoleAssign, domain.PermRoleDefine, domain.PermPresenceClean}},
		{"nobody", domain.RoleDefault, nil, domain.AllPermissions},
	}
	for _, tc := range cases {
		t.Run(tc.identity, func(t *testing.T) {
			role, err := h.roles.RoleOf(ctx, tc.identity)
			require.NoError(t, err)
			assert.Equal(t, tc.role, role)

			perms, err := h.roles.PermissionsOf(ctx, tc.identity)
			require.NoError(t, err)
			for _, p := range tc.allowed {
				assert.True(t, perms.Has(p), p)
			}
			for _, p := range tc.denied {
				assert.False(t, perms.Has(p), p)
			}
		})
	}
}

func TestOwnerRoleCannotChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.roles.Assign(ctx, ownerID, "u5", domain.RoleOwner)
	assert.ErrorIs(t, err, apperrors.ErrFixedRole)
	assert.ErrorIs(t, err, apperrors.ErrPermissionsInsufficient)

	_, err = h.roles.Assign(ctx, ownerID, ownerID, domain.RoleModerator)
	assert.ErrorIs(t, err, apperrors.ErrFixedRole)

	err = h.roles.Revoke(ctx, adminID, ownerID)
	assert.ErrorIs(t, err, apperrors.ErrFixedRole)

	role, err := h.roles.RoleOf(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, role)
}

func TestRevokeNeverAssignedSucceeds(t *testing.T) {
	h := newHarness(t)
	changed := h.countEvents(t, events.EventRoleChanged)

	require.NoError(t, h.roles.Revoke(context.Background(), adminID, "u5"))
	assert.NotContains(t, h.mem.AuditActions(), domain.AuditRoleRevoked)
	assert.Empty(t, changed())
}

func TestAssignAndRevokeRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	changed := h.countEvents(t, events.EventRoleChanged)

	assignment, err := h.roles.Assign(ctx, adminID, "u5", domain.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, adminID, assignment.AssignedBy)

	role, err := h.roles.RoleOf(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, role)

	require.NoError(t, h.roles.Revoke(ctx, adminID, "u5"))
	role, err = h.roles.RoleOf(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDefault, role)

	assert.Len(t, changed(), 2)
	assert.Contains(t, h.mem.AuditActions(), domain.AuditRoleAssigned)
	assert.Contains(t, h.mem.AuditActions(), domain.AuditRoleRevoked)
}

func TestAssignRequiresCapability(t *testing.T) {
	h := newHarness(t)

	_, err := h.roles.Assign(context.Background(), modID, "u5", domain.RoleModerator)
	require.ErrorIs(t, err, apperrors.ErrPermissionsInsufficient)
	assert.NotErrorIs(t, err, apperrors.ErrFixedRole)
}

func TestCustomRoleDefinition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	def, err := h.roles.DefineRole(ctx, ownerID, RoleDefinitionInput{
		ID:          "Helper",
		DisplayName: "Helper",
		Color:       "#22aa88",
		Permissions: []domain.Permission{domain.PermWarningIssue, domain.PermWarningIssue},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleID("helper"), def.ID)
	assert.Equal(t, []domain.Permission{domain.PermWarningIssue}, def.Permissions)

	_, err = h.roles.Assign(ctx, adminID, "u6", "helper")
	require.NoError(t, err)

	perms, err := h.roles.PermissionsOf(ctx, "u6")
	require.NoError(t, err)
	assert.True(t, perms.Has(domain.PermWarningIssue))
	assert.False(t, perms.Has(domain.PermBanIssue))

	defs, err := h.roles.ListDefinitions(ctx, adminID)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	require.NoError(t, h.roles.DeleteDefinition(ctx, ownerID, "helper"))
	perms, err = h.roles.PermissionsOf(ctx, "u6")
	require.NoError(t, err)
	assert.Empty(t, perms.List())
}

func TestDefineRoleValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.roles.DefineRole(ctx, ownerID, RoleDefinitionInput{ID: "admin", DisplayName: "Admin"})
	assert.ErrorIs(t, err, apperrors.ErrFixedRole)

	_, err = h.roles.DefineRole(ctx, ownerID, RoleDefinitionInput{ID: "bad id!", DisplayName: "Bad"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.roles.DefineRole(ctx, ownerID, RoleDefinitionInput{
		ID: "helper", DisplayName: "Helper", Permissions: []domain.Permission{"launch.missiles"},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.roles.DefineRole(ctx, modID, RoleDefinitionInput{ID: "helper", DisplayName: "Helper"})
	assert.ErrorIs(t, err, apperrors.ErrPermissionsInsufficient)
}

func TestAssignUnknownCustomRole(t *testing.T) {
	h := newHarness(t)

	_, err := h.roles.Assign(context.Background(), adminID, "u6", "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRoleFallsBackToCacheDuringOutage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	role, err := h.roles.RoleOf(ctx, modID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleModerator, role)

	h.mem.SetUnreachable(errConnRefused)
	h.link.Probe(ctx)

	role, err = h.roles.RoleOf(ctx, modID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleModerator, role)

	role, err = h.roles.RoleOf(ctx, "uncached")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleDefault, role)
}
