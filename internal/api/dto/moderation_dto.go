package dto

import (
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
)

// IssueBanRequest payload.
type IssueBanRequest struct {
	IdentityID string              `json:"identity_id"`
	Reason     string              `json:"reason"`
	Kind       domain.SanctionKind `json:"kind"`
	// DurationMinutes is required for TEMPORARY bans.
	DurationMinutes int `json:"duration_minutes"`
}

// SanctionResponse describes a stored sanction.
type SanctionResponse struct {
	SanctionID string              `json:"sanction_id"`
	IdentityID string              `json:"identity_id"`
	Reason     string              `json:"reason"`
	Kind       domain.SanctionKind `json:"kind"`
	IssuedAt   time.Time           `json:"issued_at"`
	ExpiresAt  *time.Time          `json:"expires_at"`
	IssuedBy   string              `json:"issued_by"`
}

// BanStatusResponse reports whether an identity is banned.
type BanStatusResponse struct {
	IdentityID           string              `json:"identity_id"`
	Banned               bool                `json:"banned"`
	SanctionID           string              `json:"sanction_id,omitempty"`
	Reason               string              `json:"reason,omitempty"`
	Kind                 domain.SanctionKind `json:"kind,omitempty"`
	ExpiresAt            *time.Time          `json:"expires_at,omitempty"`
	TimeRemainingSeconds int64               `json:"time_remaining_seconds,omitempty"`
	BannedAt             *time.Time          `json:"banned_at,omitempty"`
	BannedBy             string              `json:"banned_by,omitempty"`
	Source               string              `json:"source"`
}

// IssueWarningRequest payload.
type IssueWarningRequest struct {
	IdentityID       string                 `json:"identity_id"`
	Title            string                 `json:"title"`
	Message          string                 `json:"message"`
	Severity         domain.WarningSeverity `json:"severity"`
	Dismissible      bool                   `json:"dismissible"`
	ExpiresInMinutes int                    `json:"expires_in_minutes"`
}

// AssignRoleRequest payload.
type AssignRoleRequest struct {
	RoleID domain.RoleID `json:"role_id"`
}

// RoleResponse describes the effective role of an identity.
type RoleResponse struct {
	IdentityID  string              `json:"identity_id"`
	RoleID      domain.RoleID       `json:"role_id"`
	Permissions []domain.Permission `json:"permissions"`
}

// RoleDefinitionRequest payload.
type RoleDefinitionRequest struct {
	ID          domain.RoleID       `json:"id"`
	DisplayName string              `json:"display_name"`
	Color       string              `json:"color"`
	Permissions []domain.Permission `json:"permissions"`
}
