package repository

import (
	"context"
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
)

type sessionRepository struct {
	db querier
}

// NewSessionRepository instantiates the repository over a pool or tx.
func NewSessionRepository(db querier) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Get(ctx context.Context, identityID string) (*domain.SessionRecord, error) {
	const query = `
        SELECT identity_id, started_at, last_heartbeat_at
        FROM sessions WHERE identity_id=$1`

	var s domain.SessionRecord
	if err := r.db.QueryRow(ctx, query, identityID).Scan(&s.IdentityID, &s.StartedAt, &s.LastHeartbeatAt); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sessionRepository) Upsert(ctx context.Context, s domain.SessionRecord, reset bool) error {
	const query = `
        INSERT INTO sessions (identity_id, started_at, last_heartbeat_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (identity_id) DO UPDATE
        SET started_at=CASE WHEN $4 THEN EXCLUDED.started_at ELSE sessions.started_at END,
            last_heartbeat_at=GREATEST(sessions.last_heartbeat_at, EXCLUDED.last_heartbeat_at)`

	_, err := r.db.Exec(ctx, query, s.IdentityID, s.StartedAt, s.LastHeartbeatAt, reset)
	return err
}

func (r *sessionRepository) Delete(ctx context.Context, identityID string) (bool, error) {
	const query = `DELETE FROM sessions WHERE identity_id=$1`

	cmd, err := r.db.Exec(ctx, query, identityID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) DeleteIfStale(ctx context.Context, identityID string, cutoff time.Time) (bool, error) {
	const query = `DELETE FROM sessions WHERE identity_id=$1 AND last_heartbeat_at < $2`

	cmd, err := r.db.Exec(ctx, query, identityID, cutoff)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *sessionRepository) List(ctx context.Context) ([]domain.SessionRecord, error) {
	const query = `
        SELECT identity_id, started_at, last_heartbeat_at
        FROM sessions ORDER BY last_heartbeat_at ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.SessionRecord
	for rows.Next() {
		var s domain.SessionRecord
		if err := rows.Scan(&s.IdentityID, &s.StartedAt, &s.LastHeartbeatAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
