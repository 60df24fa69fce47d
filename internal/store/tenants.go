package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lorekeep/lorekeep/internal/domain"
)

func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("tenant %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTenantByName(ctx context.Context, name string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at, updated_at
		FROM tenants WHERE name = $1
	`, name).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("tenant %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by name: %w", err)
	}
	return &t, nil
}

// CreateTenant inserts a tenant, enrolls the owner as its first member and
// points the owner's active tenant at it, all in one transaction.
func (s *PostgresStore) CreateTenant(ctx context.Context, name string, ownerID uuid.UUID) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalidf("tenant name is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tenant create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO tenants (id, name, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`, id, name, ownerID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Existsf("tenant %q", name)
		}
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tenant_users (tenant_id, user_id, created_at)
		VALUES ($1, $2, NOW())
	`, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("enroll tenant owner: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET tenant_id = $2, updated_at = NOW() WHERE id = $1
	`, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("set owner active tenant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tenant create tx: %w", err)
	}
	return s.GetTenant(ctx, id)
}

// IsTenantMember reports whether the user has a membership row for the tenant.
func (s *PostgresStore) IsTenantMember(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM tenant_users WHERE tenant_id = $1 AND user_id = $2)
	`, tenantID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant membership: %w", err)
	}
	return exists, nil
}

// UserMembershipTenant returns the tenant the user is a member of, or nil.
// Membership is at most one tenant per user at this layer.
func (s *PostgresStore) UserMembershipTenant(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error) {
	var tenantID uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id FROM tenant_users WHERE user_id = $1
	`, userID).Scan(&tenantID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user membership: %w", err)
	}
	return &tenantID, nil
}

// AddTenantMember inserts a membership row. An existing row is a no-op.
func (s *PostgresStore) AddTenantMember(ctx context.Context, tenantID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_users (tenant_id, user_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("add tenant member: %w", err)
	}
	return nil
}

// RemoveTenantMember removes a user from a tenant. Within one transaction it
// drops the user's role memberships scoped to the tenant, revokes the user's
// ACL rows on datasets owned by the tenant, and deletes the membership row.
// Data owned by the user is not touched.
func (s *PostgresStore) RemoveTenantMember(ctx context.Context, tenantID, userID uuid.UUID) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin member remove tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM user_roles
		WHERE user_id = $1
		  AND role_id IN (SELECT id FROM roles WHERE tenant_id = $2)
	`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("remove role memberships: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM acls
		WHERE principal_id = $1
		  AND dataset_id IN (SELECT id FROM datasets WHERE tenant_id = $2)
	`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("revoke tenant dataset grants: %w", err)
	}

	ct, err := tx.Exec(ctx, `
		DELETE FROM tenant_users WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("remove tenant member: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFoundf("user %s is not a member of tenant %s", userID, tenantID)
	}

	// A removed member must not keep the tenant selected.
	_, err = tx.Exec(ctx, `
		UPDATE users SET tenant_id = NULL, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("reset active tenant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit member remove tx: %w", err)
	}
	return nil
}
