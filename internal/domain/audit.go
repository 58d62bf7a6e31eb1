package domain

import "time"

// AuditAction names an administrative action recorded in the audit log.
type AuditAction string

const (
	AuditBanIssued     AuditAction = "BAN_ISSUED"
	AuditBanRevoked    AuditAction = "BAN_REVOKED"
	AuditBanExpired    AuditAction = "BAN_EXPIRED"
	AuditWarningIssued AuditAction = "WARNING_ISSUED"
	AuditRoleAssigned  AuditAction = "ROLE_ASSIGNED"
	AuditRoleRevoked   AuditAction = "ROLE_REVOKED"
	AuditRoleDefined   AuditAction = "ROLE_DEFINED"
	AuditRoleDeleted   AuditAction = "ROLE_DELETED"
	AuditManualCleanup AuditAction = "MANUAL_CLEANUP"
)

// SystemActor marks actions performed by the service itself.
const SystemActor = "system"

// AuditEntry is an immutable record of an administrative action.
type AuditEntry struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actor_id"`
	Action    AuditAction    `json:"action"`
	TargetID  string         `json:"target_id"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
