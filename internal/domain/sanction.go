package domain

import (
	"fmt"
	"strings"
	"time"
)

// SanctionKind distinguishes time-boxed bans from permanent ones.
type SanctionKind string

const (
	SanctionTemporary SanctionKind = "TEMPORARY"
	SanctionPermanent SanctionKind = "PERMANENT"
)

// Valid reports whether the kind is one of the known values.
func (k SanctionKind) Valid() bool {
	return k == SanctionTemporary || k == SanctionPermanent
}

// SanctionRecord is a ban attached to an identity. A temporary record
// always carries ExpiresAt.
type SanctionRecord struct {
	SanctionID string       `json:"sanction_id"`
	IdentityID string       `json:"identity_id"`
	Reason     string       `json:"reason"`
	Kind       SanctionKind `json:"kind"`
	IssuedAt   time.Time    `json:"issued_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	IssuedBy   string       `json:"issued_by"`
}

// Validate checks the structural invariants of the record.
func (s *SanctionRecord) Validate() error {
	if s == nil {
		return fmt.Errorf("sanction record is nil")
	}
	if strings.TrimSpace(s.SanctionID) == "" {
		return fmt.Errorf("sanction_id is required")
	}
	if strings.TrimSpace(s.IdentityID) == "" {
		return fmt.Errorf("identity_id is required")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("unknown sanction kind %q", s.Kind)
	}
	if s.Kind == SanctionTemporary && s.ExpiresAt == nil {
		return fmt.Errorf("temporary sanction %s has no expires_at", s.SanctionID)
	}
	return nil
}

// Expired reports whether a temporary sanction has lapsed at now.
// Permanent sanctions never expire.
func (s *SanctionRecord) Expired(now time.Time) bool {
	if s == nil || s.Kind != SanctionTemporary || s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

// Remaining returns the time left on a temporary sanction, or zero.
func (s *SanctionRecord) Remaining(now time.Time) time.Duration {
	if s == nil || s.ExpiresAt == nil {
		return 0
	}
	left := s.ExpiresAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
