package repository

import (
	"context"

	"github.com/spec-kit/moderation-service/internal/domain"
)

type sanctionRepository struct {
	db querier
}

// NewSanctionRepository instantiates the repository over a pool or tx.
func NewSanctionRepository(db querier) SanctionRepository {
	return &sanctionRepository{db: db}
}

func (r *sanctionRepository) GetByIdentity(ctx context.Context, identityID string) (*domain.SanctionRecord, error) {
	const query = `
        SELECT sanction_id, identity_id, reason, kind, issued_at, expires_at, issued_by
        FROM sanctions WHERE identity_id=$1`

	var s domain.SanctionRecord
	if err := r.db.QueryRow(ctx, query, identityID).Scan(
		&s.SanctionID,
		&s.IdentityID,
		&s.Reason,
		&s.Kind,
		&s.IssuedAt,
		&s.ExpiresAt,
		&s.IssuedBy,
	); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *sanctionRepository) Put(ctx context.Context, s *domain.SanctionRecord) error {
	const query = `
        INSERT INTO sanctions (identity_id, sanction_id, reason, kind, issued_at, expires_at, issued_by)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (identity_id) DO UPDATE
        SET sanction_id=EXCLUDED.sanction_id, reason=EXCLUDED.reason, kind=EXCLUDED.kind,
            issued_at=EXCLUDED.issued_at, expires_at=EXCLUDED.expires_at, issued_by=EXCLUDED.issued_by`

	_, err := r.db.Exec(ctx, query,
		s.IdentityID,
		s.SanctionID,
		s.Reason,
		s.Kind,
		s.IssuedAt,
		s.ExpiresAt,
		s.IssuedBy,
	)
	return err
}

func (r *sanctionRepository) Delete(ctx context.Context, identityID, sanctionID string) (bool, error) {
	const query = `
        DELETE FROM sanctions
        WHERE identity_id=$1 AND ($2 = '' OR sanction_id=$2)`

	cmd, err := r.db.Exec(ctx, query, identityID, sanctionID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
