package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/moderation-service/internal/domain"
)

const warningColumns = `id, identity_id, title, message, severity, issued_at, issued_by, expires_at, acknowledged_at, dismissible`

type warningRepository struct {
	db querier
}

// NewWarningRepository instantiates the repository over a pool or tx.
func NewWarningRepository(db querier) WarningRepository {
	return &warningRepository{db: db}
}

func (r *warningRepository) Create(ctx context.Context, w *domain.WarningRecord) error {
	const query = `
        INSERT INTO warnings (` + warningColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := r.db.Exec(ctx, query,
		w.ID,
		w.IdentityID,
		w.Title,
		w.Message,
		w.Severity,
		w.IssuedAt,
		w.IssuedBy,
		w.ExpiresAt,
		w.AcknowledgedAt,
		w.Dismissible,
	)
	return err
}

func (r *warningRepository) Get(ctx context.Context, warningID string) (*domain.WarningRecord, error) {
	const query = `SELECT ` + warningColumns + ` FROM warnings WHERE id=$1`

	w, err := scanWarning(r.db.QueryRow(ctx, query, warningID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (r *warningRepository) ListByIdentity(ctx context.Context, identityID string) ([]domain.WarningRecord, error) {
	const query = `SELECT ` + warningColumns + ` FROM warnings WHERE identity_id=$1 ORDER BY issued_at ASC`

	rows, err := r.db.Query(ctx, query, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warnings []domain.WarningRecord
	for rows.Next() {
		w, err := scanWarning(rows)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, *w)
	}
	return warnings, rows.Err()
}

func (r *warningRepository) Acknowledge(ctx context.Context, warningID string, at time.Time) (*domain.WarningRecord, error) {
	const query = `
        UPDATE warnings SET acknowledged_at=COALESCE(acknowledged_at, $2)
        WHERE id=$1
        RETURNING ` + warningColumns

	w, err := scanWarning(r.db.QueryRow(ctx, query, warningID, at))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func scanWarning(row pgx.Row) (*domain.WarningRecord, error) {
	var w domain.WarningRecord
	if err := row.Scan(
		&w.ID,
		&w.IdentityID,
		&w.Title,
		&w.Message,
		&w.Severity,
		&w.IssuedAt,
		&w.IssuedBy,
		&w.ExpiresAt,
		&w.AcknowledgedAt,
		&w.Dismissible,
	); err != nil {
		return nil, err
	}
	return &w, nil
}
