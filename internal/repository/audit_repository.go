package repository

import (
	"context"
	"encoding/json"

	"github.com/spec-kit/moderation-service/internal/domain"
)

const defaultAuditLimit = 50

type auditRepository struct {
	db querier
}

// NewAuditRepository instantiates the repository over a pool or tx.
func NewAuditRepository(db querier) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, e domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_log (id, actor_id, action, target_id, details, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`

	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, query, e.ID, e.ActorID, e.Action, e.TargetID, payload, e.CreatedAt)
	return err
}

func (r *auditRepository) ListRecent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	const query = `
        SELECT id, actor_id, action, target_id, details, created_at
        FROM audit_log ORDER BY id DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
