package events

import (
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventBanDetected         EventType = "ban_detected"
	EventWarningCreated      EventType = "warning_created"
	EventSessionStateChanged EventType = "session_state_changed"
	EventRoleChanged         EventType = "role_changed"
)

// Event represents a domain event emitted by services. Key is stable for
// one logical fact (a sanction id, a warning id) so subscribers can
// deduplicate side effects across repeated deliveries.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Key        string    `json:"key"`
	IdentityID string    `json:"identity_id"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload"`
}

// New builds an event with a fresh id.
func New(eventType EventType, key, identityID string, at time.Time, payload any) Event {
	return Event{
		ID:         domain.NewRecordID(),
		Type:       eventType,
		Key:        key,
		IdentityID: identityID,
		Timestamp:  at,
		Payload:    payload,
	}
}

// BanDetectedPayload payload.
type BanDetectedPayload struct {
	SanctionID    string              `json:"sanction_id"`
	Reason        string              `json:"reason"`
	Kind          domain.SanctionKind `json:"kind"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	TimeRemaining time.Duration       `json:"time_remaining,omitempty"`
	BannedAt      time.Time           `json:"banned_at"`
	BannedBy      string              `json:"banned_by"`
}

// WarningCreatedPayload payload.
type WarningCreatedPayload struct {
	ID          string                 `json:"id"`
	Severity    domain.WarningSeverity `json:"severity"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Dismissible bool                   `json:"dismissible"`
}

// Blocking reports whether the warning must be enforced like a sanction.
func (p WarningCreatedPayload) Blocking() bool {
	return !p.Dismissible || p.Severity == domain.SeverityTerminal
}

// SessionStateChangedPayload payload.
type SessionStateChangedPayload struct {
	IdentityID string `json:"identity_id"`
	IsOnline   bool   `json:"is_online"`
}

// RoleChangedPayload payload.
type RoleChangedPayload struct {
	IdentityID string        `json:"identity_id"`
	RoleID     domain.RoleID `json:"role_id"`
}
