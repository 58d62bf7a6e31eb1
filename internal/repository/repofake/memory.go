// Package repofake provides in-memory implementations of the authoritative
// store and change feed for tests.
package repofake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
	"github.com/spec-kit/moderation-service/internal/repository"
	apperrors "github.com/spec-kit/moderation-service/pkg/util"
)

type state struct {
	sanctions   map[string]domain.SanctionRecord
	sessions    map[string]domain.SessionRecord
	profiles    map[string]domain.Profile
	assignments map[string]domain.RoleAssignment
	definitions map[domain.RoleID]domain.RoleDefinition
	warnings    map[string]domain.WarningRecord
	audit       []domain.AuditEntry

	sanctionDeletes int
	sessionDeletes  int
}

func newState() *state {
	return &state{
		sanctions:   map[string]domain.SanctionRecord{},
		sessions:    map[string]domain.SessionRecord{},
		profiles:    map[string]domain.Profile{},
		assignments: map[string]domain.RoleAssignment{},
		definitions: map[domain.RoleID]domain.RoleDefinition{},
		warnings:    map[string]domain.WarningRecord{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.sanctions {
		c.sanctions[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.definitions {
		c.definitions[k] = v
	}
	for k, v := range s.warnings {
		c.warnings[k] = v
	}
	c.audit = append(c.audit, s.audit...)
	c.sanctionDeletes = s.sanctionDeletes
	c.sessionDeletes = s.sessionDeletes
	return c
}

// Memory is an in-memory authoritative store. Batches run against a copy
// that replaces the live state only when the batch succeeds.
type Memory struct {
	mu        sync.Mutex
	st        *state
	failErr   error
	conflicts int
}

// New returns an empty store.
func New() *Memory {
	return &Memory{st: newState()}
}

// Store exposes the fake through the repository contracts.
func (m *Memory) Store() *repository.Store {
	return &repository.Store{
		Repositories: reposOn(liveView{m: m}),
		Batches:      m,
	}
}

// SetUnreachable makes every operation fail with err. Pass nil to recover.
func (m *Memory) SetUnreachable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// FailNextBatches makes the next n batches fail with a write conflict.
func (m *Memory) FailNextBatches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// Ping reports the simulated connectivity.
func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failErr
}

// RunBatch implements repository.Batcher.
func (m *Memory) RunBatch(ctx context.Context, fn func(tx repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return apperrors.NewConcurrentModification("simulated conflict", nil)
	}
	draft := m.st.clone()
	if err := fn(reposOn(txView{st: draft})); err != nil {
		return err
	}
	m.st = draft
	return nil
}

// SeedSanction writes a sanction directly, bypassing connectivity checks.
func (m *Memory) SeedSanction(s domain.SanctionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.sanctions[s.IdentityID] = s
}

// SeedSession writes a session directly.
func (m *Memory) SeedSession(s domain.SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.sessions[s.IdentityID] = s
}

// SeedProfile writes a profile directly.
func (m *Memory) SeedProfile(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.profiles[p.IdentityID] = p
}

// SeedWarning writes a warning directly.
func (m *Memory) SeedWarning(w domain.WarningRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.warnings[w.ID] = w
}

// SanctionDeletes counts sanction rows actually removed.
func (m *Memory) SanctionDeletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.sanctionDeletes
}

// SessionDeletes counts session rows actually removed.
func (m *Memory) SessionDeletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.sessionDeletes
}

// Sanction returns the stored sanction for identityID.
func (m *Memory) Sanction(identityID string) (domain.SanctionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.sanctions[identityID]
	return s, ok
}

// Session returns the stored session for identityID.
func (m *Memory) Session(identityID string) (domain.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.st.sessions[identityID]
	return s, ok
}

// Profile returns the stored profile for identityID.
func (m *Memory) Profile(identityID string) (domain.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.profiles[identityID]
	return p, ok
}

// AuditActions returns the recorded actions in append order.
func (m *Memory) AuditActions() []domain.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(m.st.audit))
	for _, e := range m.st.audit {
		out = append(out, e.Action)
	}
	return out
}

type view interface {
	do(ctx context.Context, fn func(st *state) error) error
}

type liveView struct {
	m *Memory
}

func (v liveView) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.m.mu.Lock()
	defer v.m.mu.Unlock()
	if v.m.failErr != nil {
		return v.m.failErr
	}
	return fn(v.m.st)
}

type txView struct {
	st *state
}

func (v txView) do(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(v.st)
}

func reposOn(v view) repository.Repositories {
	return repository.Repositories{
		Sanctions: sanctions{v},
		Sessions:  sessions{v},
		Profiles:  profiles{v},
		Roles:     roles{v},
		Warnings:  warnings{v},
		Audit:     audit{v},
	}
}

type sanctions struct{ v view }

func (r sanctions) GetByIdentity(ctx context.Context, identityID string) (*domain.SanctionRecord, error) {
	var out *domain.SanctionRecord
	err := r.v.do(ctx, func(st *state) error {
		s, ok := st.sanctions[identityID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r sanctions) Put(ctx context.Context, s *domain.SanctionRecord) error {
	return r.v.do(ctx, func(st *state) error {
		for id, existing := range st.sanctions {
			if id != s.IdentityID && existing.SanctionID == s.SanctionID {
				return apperrors.NewConcurrentModification("duplicate sanction id", nil)
			}
		}
		st.sanctions[s.IdentityID] = *s
		return nil
	})
}

func (r sanctions) Delete(ctx context.Context, identityID, sanctionID string) (bool, error) {
	deleted := false
	err := r.v.do(ctx, func(st *state) error {
		s, ok := st.sanctions[identityID]
		if !ok || (sanctionID != "" && s.SanctionID != sanctionID) {
			return nil
		}
		delete(st.sanctions, identityID)
		st.sanctionDeletes++
		deleted = true
		return nil
	})
	return deleted, err
}

type sessions struct{ v view }

func (r sessions) Get(ctx context.Context, identityID string) (*domain.SessionRecord, error) {
	var out *domain.SessionRecord
	err := r.v.do(ctx, func(st *state) error {
		s, ok := st.sessions[identityID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r sessions) Upsert(ctx context.Context, s domain.SessionRecord, reset bool) error {
	return r.v.do(ctx, func(st *state) error {
		existing, ok := st.sessions[s.IdentityID]
		if ok && !reset {
			s.StartedAt = existing.StartedAt
		}
		if ok && existing.LastHeartbeatAt.After(s.LastHeartbeatAt) {
			s.LastHeartbeatAt = existing.LastHeartbeatAt
		}
		st.sessions[s.IdentityID] = s
		return nil
	})
}

func (r sessions) Delete(ctx context.Context, identityID string) (bool, error) {
	deleted := false
	err := r.v.do(ctx, func(st *state) error {
		if _, ok := st.sessions[identityID]; !ok {
			return nil
		}
		delete(st.sessions, identityID)
		st.sessionDeletes++
		deleted = true
		return nil
	})
	return deleted, err
}

func (r sessions) DeleteIfStale(ctx context.Context, identityID string, cutoff time.Time) (bool, error) {
	deleted := false
	err := r.v.do(ctx, func(st *state) error {
		s, ok := st.sessions[identityID]
		if !ok || !s.LastHeartbeatAt.Before(cutoff) {
			return nil
		}
		delete(st.sessions, identityID)
		st.sessionDeletes++
		deleted = true
		return nil
	})
	return deleted, err
}

func (r sessions) List(ctx context.Context) ([]domain.SessionRecord, error) {
	var out []domain.SessionRecord
	err := r.v.do(ctx, func(st *state) error {
		for _, s := range st.sessions {
			out = append(out, s)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastHeartbeatAt.Before(out[j].LastHeartbeatAt) })
	return out, err
}

type profiles struct{ v view }

func (r profiles) Get(ctx context.Context, identityID string) (*domain.Profile, error) {
	var out *domain.Profile
	err := r.v.do(ctx, func(st *state) error {
		p, ok := st.profiles[identityID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r profiles) Ensure(ctx context.Context, identity domain.Identity, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		p, ok := st.profiles[identity.ID]
		if !ok {
			p = domain.Profile{IdentityID: identity.ID, LastActive: at, UpdatedAt: at}
		}
		if identity.Username != "" {
			p.Username = identity.Username
		}
		st.profiles[identity.ID] = p
		return nil
	})
}

func (r profiles) SetOnline(ctx context.Context, identityID string, online bool, at time.Time) (bool, error) {
	changed := false
	err := r.v.do(ctx, func(st *state) error {
		p, ok := st.profiles[identityID]
		if !ok || p.IsOnline == online {
			return nil
		}
		p.IsOnline = online
		p.UpdatedAt = at
		st.profiles[identityID] = p
		changed = true
		return nil
	})
	return changed, err
}

func (r profiles) TouchLastActive(ctx context.Context, identityID string, at time.Time) error {
	return r.v.do(ctx, func(st *state) error {
		p, ok := st.profiles[identityID]
		if !ok {
			return nil
		}
		if at.After(p.LastActive) {
			p.LastActive = at
		}
		p.UpdatedAt = at
		st.profiles[identityID] = p
		return nil
	})
}

func (r profiles) AddOnlineTime(ctx context.Context, identityID string, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	return r.v.do(ctx, func(st *state) error {
		p, ok := st.profiles[identityID]
		if !ok {
			return nil
		}
		p.TotalOnlineSeconds += seconds
		st.profiles[identityID] = p
		return nil
	})
}

type roles struct{ v view }

func (r roles) GetAssignment(ctx context.Context, identityID string) (*domain.RoleAssignment, error) {
	var out *domain.RoleAssignment
	err := r.v.do(ctx, func(st *state) error {
		a, ok := st.assignments[identityID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r roles) PutAssignment(ctx context.Context, a domain.RoleAssignment) error {
	return r.v.do(ctx, func(st *state) error {
		st.assignments[a.IdentityID] = a
		return nil
	})
}

func (r roles) DeleteAssignment(ctx context.Context, identityID string) (bool, error) {
	deleted := false
	err := r.v.do(ctx, func(st *state) error {
		if _, ok := st.assignments[identityID]; ok {
			delete(st.assignments, identityID)
			deleted = true
		}
		return nil
	})
	return deleted, err
}

func (r roles) GetDefinition(ctx context.Context, roleID domain.RoleID) (*domain.RoleDefinition, error) {
	var out *domain.RoleDefinition
	err := r.v.do(ctx, func(st *state) error {
		d, ok := st.definitions[roleID]
		if !ok {
			return repository.ErrNotFound
		}
		d.Permissions = append([]domain.Permission(nil), d.Permissions...)
		out = &d
		return nil
	})
	return out, err
}

func (r roles) ListDefinitions(ctx context.Context) ([]domain.RoleDefinition, error) {
	var out []domain.RoleDefinition
	err := r.v.do(ctx, func(st *state) error {
		for _, d := range st.definitions {
			out = append(out, d)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r roles) PutDefinition(ctx context.Context, def domain.RoleDefinition) error {
	return r.v.do(ctx, func(st *state) error {
		if existing, ok := st.definitions[def.ID]; ok {
			def.CreatedBy = existing.CreatedBy
			def.CreatedAt = existing.CreatedAt
		}
		def.Permissions = append([]domain.Permission(nil), def.Permissions...)
		st.definitions[def.ID] = def
		return nil
	})
}

func (r roles) DeleteDefinition(ctx context.Context, roleID domain.RoleID) (bool, error) {
	deleted := false
	err := r.v.do(ctx, func(st *state) error {
		if _, ok := st.definitions[roleID]; ok {
			delete(st.definitions, roleID)
			deleted = true
		}
		return nil
	})
	return deleted, err
}

type warnings struct{ v view }

func (r warnings) Create(ctx context.Context, w *domain.WarningRecord) error {
	return r.v.do(ctx, func(st *state) error {
		if _, ok := st.warnings[w.ID]; ok {
			return apperrors.NewConcurrentModification("duplicate warning id", nil)
		}
		st.warnings[w.ID] = *w
		return nil
	})
}

func (r warnings) Get(ctx context.Context, warningID string) (*domain.WarningRecord, error) {
	var out *domain.WarningRecord
	err := r.v.do(ctx, func(st *state) error {
		w, ok := st.warnings[warningID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &w
		return nil
	})
	return out, err
}

func (r warnings) ListByIdentity(ctx context.Context, identityID string) ([]domain.WarningRecord, error) {
	var out []domain.WarningRecord
	err := r.v.do(ctx, func(st *state) error {
		for _, w := range st.warnings {
			if w.IdentityID == identityID {
				out = append(out, w)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, err
}

func (r warnings) Acknowledge(ctx context.Context, warningID string, at time.Time) (*domain.WarningRecord, error) {
	var out *domain.WarningRecord
	err := r.v.do(ctx, func(st *state) error {
		w, ok := st.warnings[warningID]
		if !ok {
			return repository.ErrNotFound
		}
		if w.AcknowledgedAt == nil {
			ackAt := at
			w.AcknowledgedAt = &ackAt
			st.warnings[warningID] = w
		}
		out = &w
		return nil
	})
	return out, err
}

type audit struct{ v view }

func (r audit) Append(ctx context.Context, e domain.AuditEntry) error {
	return r.v.do(ctx, func(st *state) error {
		st.audit = append(st.audit, e)
		return nil
	})
}

func (r audit) ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := r.v.do(ctx, func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			if limit > 0 && len(out) == limit {
				break
			}
			out = append(out, st.audit[i])
		}
		return nil
	})
	return out, err
}
