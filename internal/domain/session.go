package domain

import "time"

// SessionRecord is the heartbeat-backed presence record of an active identity.
type SessionRecord struct {
	IdentityID      string    `json:"identity_id"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

// Idle returns how long the session has gone without a heartbeat.
func (s SessionRecord) Idle(now time.Time) time.Duration {
	return now.Sub(s.LastHeartbeatAt)
}

// PresenceState enumerates the per-identity presence lifecycle.
type PresenceState string

const (
	PresenceOffline   PresenceState = "OFFLINE"
	PresenceStarting  PresenceState = "STARTING"
	PresenceActive    PresenceState = "ACTIVE"
	PresenceStaleWarn PresenceState = "STALE_WARN"
)

// CleanupSummary reports the effect of one reaper cycle.
type CleanupSummary struct {
	ExpiredSessions int `json:"expiredSessions"`
	OfflineUsers    int `json:"offlineUsers"`
}
