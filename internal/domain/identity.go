package domain

import "time"

// Identity is the opaque id/username pair tracked by the moderation core.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// IsZero reports whether no identity is set.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Profile is the remote presence/statistics document for an identity.
type Profile struct {
	IdentityID         string    `json:"identity_id"`
	Username           string    `json:"username"`
	IsOnline           bool      `json:"is_online"`
	LastActive         time.Time `json:"last_active"`
	TotalOnlineSeconds int64     `json:"total_online_seconds"`
	UpdatedAt          time.Time `json:"updated_at"`
}
