package repository

import (
	"context"
	"time"

	"github.com/spec-kit/moderation-service/internal/domain"
)

type profileRepository struct {
	db querier
}

// NewProfileRepository instantiates the repository over a pool or tx.
func NewProfileRepository(db querier) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) Get(ctx context.Context, identityID string) (*domain.Profile, error) {
	const query = `
        SELECT identity_id, username, is_online, last_active, total_online_seconds, updated_at
        FROM profiles WHERE identity_id=$1`

	var p domain.Profile
	if err := r.db.QueryRow(ctx, query, identityID).Scan(
		&p.IdentityID,
		&p.Username,
		&p.IsOnline,
		&p.LastActive,
		&p.TotalOnlineSeconds,
		&p.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *profileRepository) Ensure(ctx context.Context, identity domain.Identity, at time.Time) error {
	const query = `
        INSERT INTO profiles (identity_id, username, last_active, updated_at)
        VALUES ($1,$2,$3,$3)
        ON CONFLICT (identity_id) DO UPDATE
        SET username=CASE WHEN EXCLUDED.username = '' THEN profiles.username ELSE EXCLUDED.username END`

	_, err := r.db.Exec(ctx, query, identity.ID, identity.Username, at)
	return err
}

func (r *profileRepository) SetOnline(ctx context.Context, identityID string, online bool, at time.Time) (bool, error) {
	// The WHERE clause makes the write a no-op when the flag already holds
	// the target value, so RowsAffected reports an actual transition.
	const query = `
        UPDATE profiles SET is_online=$2, updated_at=$3
        WHERE identity_id=$1 AND is_online <> $2`

	cmd, err := r.db.Exec(ctx, query, identityID, online, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *profileRepository) TouchLastActive(ctx context.Context, identityID string, at time.Time) error {
	const query = `
        UPDATE profiles SET last_active=GREATEST(last_active, $2), updated_at=$2
        WHERE identity_id=$1`

	_, err := r.db.Exec(ctx, query, identityID, at)
	return err
}

func (r *profileRepository) AddOnlineTime(ctx context.Context, identityID string, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	const query = `
        UPDATE profiles SET total_online_seconds=total_online_seconds + $2, updated_at=NOW()
        WHERE identity_id=$1`

	_, err := r.db.Exec(ctx, query, identityID, seconds)
	return err
}
