package dto

import "time"

// AuthResponse standard response for issued tokens.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
