package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lorekeep/lorekeep/internal/domain"
)

func (s *PostgresStore) CreateRole(ctx context.Context, name string, tenantID uuid.UUID) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalidf("role name is required")
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (id, name, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, id, name, tenantID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Existsf("role %q in tenant %s", name, tenantID)
		}
		return nil, fmt.Errorf("create role: %w", err)
	}
	return s.GetRole(ctx, id)
}

func (s *PostgresStore) GetRole(ctx context.Context, id uuid.UUID) (*domain.Role, error) {
	var r domain.Role
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, tenant_id, created_at, updated_at
		FROM roles WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &r.TenantID, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("role %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	return &r, nil
}

// AddRoleMember inserts a user-role row. An existing row is a no-op.
func (s *PostgresStore) AddRoleMember(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("add role member: %w", err)
	}
	return nil
}

// RemoveRoleMember deletes a user-role row, failing if it did not exist.
func (s *PostgresStore) RemoveRoleMember(ctx context.Context, userID, roleID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("remove role member: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFoundf("user %s has no membership in role %s", userID, roleID)
	}
	return nil
}

// ListUserRoleIDs returns the role IDs the user belongs to.
func (s *PostgresStore) ListUserRoleIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role_id FROM user_roles WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
