// Package cache is the durable local copy of identity, sanction, session,
// role and warning state. Remote state always wins; cached values are only
// consulted while the authoritative store is unreachable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
)

const (
	kindIdentity = "identity"
	kindSanction = "sanction"
	kindSession  = "session"
	kindRole     = "role"
	kindWarnings = "warnings"

	currentKey = "current"
)

// SanctionEntry is the last sanction state observed remotely. A nil Record
// means the identity was known to be clear.
type SanctionEntry struct {
	Record    *domain.SanctionRecord `json:"record,omitempty"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// RoleEntry is the last resolved role of an identity.
type RoleEntry struct {
	RoleID      domain.RoleID       `json:"role_id"`
	Permissions []domain.Permission `json:"permissions"`
	FetchedAt   time.Time           `json:"fetched_at"`
}

type backend interface {
	get(ctx context.Context, kind, key string) ([]byte, bool, error)
	put(ctx context.Context, kind, key string, payload []byte) error
	delete(ctx context.Context, kind, key string) error
}

// Cache is a typed view over a key/value backend.
type Cache struct {
	b backend
}

func (c *Cache) load(ctx context.Context, kind, key string, out any) (bool, error) {
	payload, ok, err := c.b.get(ctx, kind, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", kind, key, err)
	}
	return true, nil
}

func (c *Cache) store(ctx context.Context, kind, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, key, err)
	}
	return c.b.put(ctx, kind, key, payload)
}

// CurrentIdentity returns the identity this process acts as, if any.
func (c *Cache) CurrentIdentity(ctx context.Context) (domain.Identity, bool, error) {
	var id domain.Identity
	ok, err := c.load(ctx, kindIdentity, currentKey, &id)
	return id, ok, err
}

func (c *Cache) SetCurrentIdentity(ctx context.Context, id domain.Identity) error {
	return c.store(ctx, kindIdentity, currentKey, id)
}

func (c *Cache) ClearCurrentIdentity(ctx context.Context) error {
	return c.b.delete(ctx, kindIdentity, currentKey)
}

// Sanction returns the last remotely observed sanction state.
func (c *Cache) Sanction(ctx context.Context, identityID string) (SanctionEntry, bool, error) {
	var entry SanctionEntry
	ok, err := c.load(ctx, kindSanction, identityID, &entry)
	return entry, ok, err
}

// PutSanction records a remote observation; rec may be nil.
func (c *Cache) PutSanction(ctx context.Context, identityID string, rec *domain.SanctionRecord, fetchedAt time.Time) error {
	return c.store(ctx, kindSanction, identityID, SanctionEntry{Record: rec, FetchedAt: fetchedAt})
}

func (c *Cache) Session(ctx context.Context, identityID string) (domain.SessionRecord, bool, error) {
	var s domain.SessionRecord
	ok, err := c.load(ctx, kindSession, identityID, &s)
	return s, ok, err
}

func (c *Cache) PutSession(ctx context.Context, s domain.SessionRecord) error {
	return c.store(ctx, kindSession, s.IdentityID, s)
}

func (c *Cache) DeleteSession(ctx context.Context, identityID string) error {
	return c.b.delete(ctx, kindSession, identityID)
}

func (c *Cache) Role(ctx context.Context, identityID string) (RoleEntry, bool, error) {
	var entry RoleEntry
	ok, err := c.load(ctx, kindRole, identityID, &entry)
	return entry, ok, err
}

func (c *Cache) PutRole(ctx context.Context, identityID string, entry RoleEntry) error {
	return c.store(ctx, kindRole, identityID, entry)
}

func (c *Cache) Warnings(ctx context.Context, identityID string) ([]domain.WarningRecord, bool, error) {
	var warnings []domain.WarningRecord
	ok, err := c.load(ctx, kindWarnings, identityID, &warnings)
	return warnings, ok, err
}

func (c *Cache) PutWarnings(ctx context.Context, identityID string, warnings []domain.WarningRecord) error {
	return c.store(ctx, kindWarnings, identityID, warnings)
}
