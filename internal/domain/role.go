package domain

import (
	"sort"
	"time"
)

// RoleID identifies a fixed or custom role.
type RoleID string

const (
	RoleOwner     RoleID = "owner"
	RoleAdmin     RoleID = "admin"
	RoleModerator RoleID = "moderator"
	RoleDefault   RoleID = "default"
)

// IsFixed reports whether the role is one of the built-in roles.
func (r RoleID) IsFixed() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleDefault:
		return true
	}
	return false
}

// Permission is a capability key checked by the admin surface.
type Permission string

const (
	PermBanIssue        Permission = "ban.issue"
	PermBanRevoke       Permission = "ban.revoke"
	PermWarningIssue    Permission = "warning.issue"
	PermRoleAssign      Permission = "role.assign"
	PermRoleDefine      Permission = "role.define"
	PermPresenceClean   Permission = "presence.cleanup"
	PermAuditRead       Permission = "audit.read"
	PermContentModerate Permission = "content.moderate"
)

// AllPermissions is the catalog custom roles may draw from.
var AllPermissions = []Permission{
	PermBanIssue,
	PermBanRevoke,
	PermWarningIssue,
	PermRoleAssign,
	PermRoleDefine,
	PermPresenceClean,
	PermAuditRead,
	PermContentModerate,
}

// KnownPermission reports whether p is in the catalog.
func KnownPermission(p Permission) bool {
	for _, known := range AllPermissions {
		if known == p {
			return true
		}
	}
	return false
}

// PermissionSet is an unordered set of capabilities.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given keys.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// List returns the permissions sorted by key.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoleDefinition describes a custom role.
type RoleDefinition struct {
	ID          RoleID       `json:"id"`
	DisplayName string       `json:"display_name"`
	Color       string       `json:"color"`
	Permissions []Permission `json:"permissions"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
}

// RoleAssignment binds an identity to a role. Absence means RoleDefault.
type RoleAssignment struct {
	IdentityID string    `json:"identity_id"`
	RoleID     RoleID    `json:"role_id"`
	AssignedBy string    `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}
