package domain

import "time"

// WarningSeverity ranks a warning notice.
type WarningSeverity string

const (
	SeverityInfo     WarningSeverity = "INFO"
	SeverityWarning  WarningSeverity = "WARNING"
	SeveritySevere   WarningSeverity = "SEVERE"
	SeverityTerminal WarningSeverity = "TERMINAL"
)

// Valid reports whether the severity is known.
func (s WarningSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeveritySevere, SeverityTerminal:
		return true
	}
	return false
}

// WarningRecord is a non-blocking notice that needs acknowledgement.
type WarningRecord struct {
	ID             string          `json:"id"`
	IdentityID     string          `json:"identity_id"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Severity       WarningSeverity `json:"severity"`
	IssuedAt       time.Time       `json:"issued_at"`
	IssuedBy       string          `json:"issued_by"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	Dismissible    bool            `json:"dismissible"`
}

// Expired reports whether the warning has lapsed.
func (w *WarningRecord) Expired(now time.Time) bool {
	return w != nil && w.ExpiresAt != nil && now.After(*w.ExpiresAt)
}

// Outstanding reports whether the warning still needs attention at now.
func (w *WarningRecord) Outstanding(now time.Time) bool {
	return w != nil && w.AcknowledgedAt == nil && !w.Expired(now)
}
