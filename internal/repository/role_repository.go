package repository

import (
	"context"

	"github.com/spec-kit/moderation-service/internal/domain"
)

type roleRepository struct {
	db querier
}

// NewRoleRepository instantiates the repository over a pool or tx.
func NewRoleRepository(db querier) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) GetAssignment(ctx context.Context, identityID string) (*domain.RoleAssignment, error) {
	const query = `
        SELECT identity_id, role_id, assigned_by, assigned_at
        FROM role_assignments WHERE identity_id=$1`

	var a domain.RoleAssignment
	if err := r.db.QueryRow(ctx, query, identityID).Scan(&a.IdentityID, &a.RoleID, &a.AssignedBy, &a.AssignedAt); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *roleRepository) PutAssignment(ctx context.Context, a domain.RoleAssignment) error {
	const query = `
        INSERT INTO role_assignments (identity_id, role_id, assigned_by, assigned_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (identity_id) DO UPDATE
        SET role_id=EXCLUDED.role_id, assigned_by=EXCLUDED.assigned_by, assigned_at=EXCLUDED.assigned_at`

	_, err := r.db.Exec(ctx, query, a.IdentityID, a.RoleID, a.AssignedBy, a.AssignedAt)
	return err
}

func (r *roleRepository) DeleteAssignment(ctx context.Context, identityID string) (bool, error) {
	const query = `DELETE FROM role_assignments WHERE identity_id=$1`

	cmd, err := r.db.Exec(ctx, query, identityID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *roleRepository) GetDefinition(ctx context.Context, roleID domain.RoleID) (*domain.RoleDefinition, error) {
	const query = `
        SELECT id, display_name, color, permissions, created_by, created_at
        FROM role_definitions WHERE id=$1`

	var (
		def   domain.RoleDefinition
		perms []string
	)
	if err := r.db.QueryRow(ctx, query, roleID).Scan(
		&def.ID,
		&def.DisplayName,
		&def.Color,
		&perms,
		&def.CreatedBy,
		&def.CreatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	def.Permissions = toPermissions(perms)
	return &def, nil
}

func (r *roleRepository) ListDefinitions(ctx context.Context) ([]domain.RoleDefinition, error) {
	const query = `
        SELECT id, display_name, color, permissions, created_by, created_at
        FROM role_definitions ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.RoleDefinition
	for rows.Next() {
		var (
			def   domain.RoleDefinition
			perms []string
		)
		if err := rows.Scan(&def.ID, &def.DisplayName, &def.Color, &perms, &def.CreatedBy, &def.CreatedAt); err != nil {
			return nil, err
		}
		def.Permissions = toPermissions(perms)
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *roleRepository) PutDefinition(ctx context.Context, def domain.RoleDefinition) error {
	const query = `
        INSERT INTO role_definitions (id, display_name, color, permissions, created_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (id) DO UPDATE
        SET display_name=EXCLUDED.display_name, color=EXCLUDED.color, permissions=EXCLUDED.permissions`

	perms := make([]string, 0, len(def.Permissions))
	for _, p := range def.Permissions {
		perms = append(perms, string(p))
	}
	_, err := r.db.Exec(ctx, query, def.ID, def.DisplayName, def.Color, perms, def.CreatedBy, def.CreatedAt)
	return err
}

func (r *roleRepository) DeleteDefinition(ctx context.Context, roleID domain.RoleID) (bool, error) {
	const query = `DELETE FROM role_definitions WHERE id=$1`

	cmd, err := r.db.Exec(ctx, query, roleID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func toPermissions(keys []string) []domain.Permission {
	perms := make([]domain.Permission, 0, len(keys))
	for _, k := range keys {
		perms = append(perms, domain.Permission(k))
	}
	return perms
}
