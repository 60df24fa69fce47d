package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lorekeep/lorekeep/internal/domain"
)

// EnsurePermission returns the ID of the named permission, creating the row
// if absent. Permissions are deduplicated globally by name; a concurrent
// creator winning the race is resolved by re-reading.
func (s *PostgresStore) EnsurePermission(ctx context.Context, name domain.Permission) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, domain.Invalidf("permission name is required")
	}

	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM permissions WHERE name = $1
	`, string(name)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return uuid.Nil, fmt.Errorf("get permission: %w", err)
	}

	id = uuid.New()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO permissions (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
	`, id, string(name))
	if err != nil {
		if isUniqueViolation(err) {
			return s.EnsurePermission(ctx, name)
		}
		return uuid.Nil, fmt.Errorf("create permission: %w", err)
	}
	return id, nil
}

// GrantPermission inserts an ACL row granting the permission on the dataset
// to the principal. A pre-existing identical grant is a no-op.
func (s *PostgresStore) GrantPermission(ctx context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error {
	permID, err := s.EnsurePermission(ctx, name)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO acls (id, principal_id, dataset_id, permission_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (principal_id, dataset_id, permission_id) DO NOTHING
	`, uuid.New(), principalID, datasetID, permID)
	if err != nil {
		return fmt.Errorf("grant %s on dataset %s: %w", name, datasetID, err)
	}
	return nil
}

// RevokePermission deletes the matching ACL row, failing if it did not exist.
func (s *PostgresStore) RevokePermission(ctx context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM acls
		WHERE principal_id = $1 AND dataset_id = $2
		  AND permission_id = (SELECT id FROM permissions WHERE name = $3)
	`, principalID, datasetID, string(name))
	if err != nil {
		return fmt.Errorf("revoke %s on dataset %s: %w", name, datasetID, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFoundf("no %s grant on dataset %s for principal %s", name, datasetID, principalID)
	}
	return nil
}

// HasDatasetPermission reports whether the user holds the permission on the
// dataset. Explicit ACL rows are checked first (direct grants, then role
// grants applied transitively to members), then the default-permission
// tables: user defaults cover datasets the user owns, tenant and role
// defaults cover datasets scoped to the tenant.
func (s *PostgresStore) HasDatasetPermission(ctx context.Context, userID, datasetID uuid.UUID, name domain.Permission) (bool, error) {
	var allowed bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM acls a
			JOIN permissions p ON p.id = a.permission_id
			WHERE a.dataset_id = $2
			  AND p.name = $3
			  AND (a.principal_id = $1
			       OR a.principal_id IN (SELECT role_id FROM user_roles WHERE user_id = $1))
		)
		OR EXISTS(
			SELECT 1
			FROM user_default_permissions ud
			JOIN permissions p ON p.id = ud.permission_id
			JOIN datasets d ON d.id = $2
			WHERE ud.user_id = $1 AND p.name = $3 AND d.owner_id = $1
		)
		OR EXISTS(
			SELECT 1
			FROM tenant_default_permissions td
			JOIN permissions p ON p.id = td.permission_id
			JOIN datasets d ON d.id = $2 AND d.tenant_id = td.tenant_id
			JOIN tenant_users tu ON tu.tenant_id = td.tenant_id AND tu.user_id = $1
			WHERE p.name = $3
		)
		OR EXISTS(
			SELECT 1
			FROM role_default_permissions rd
			JOIN permissions p ON p.id = rd.permission_id
			JOIN roles r ON r.id = rd.role_id
			JOIN user_roles ur ON ur.role_id = r.id AND ur.user_id = $1
			JOIN datasets d ON d.id = $2 AND d.tenant_id = r.tenant_id
			WHERE p.name = $3
		)
	`, userID, datasetID, string(name)).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("check dataset permission: %w", err)
	}
	return allowed, nil
}

// ListDatasetIDsWithPermission returns the dataset IDs on which the user
// holds the permission, directly or via roles.
func (s *PostgresStore) ListDatasetIDsWithPermission(ctx context.Context, userID uuid.UUID, name domain.Permission) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT a.dataset_id
		FROM acls a
		JOIN permissions p ON p.id = a.permission_id
		WHERE p.name = $2
		  AND (a.principal_id = $1
		       OR a.principal_id IN (SELECT role_id FROM user_roles WHERE user_id = $1))
	`, userID, string(name))
	if err != nil {
		return nil, fmt.Errorf("list permitted datasets: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dataset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDatasetACLs returns every grant recorded on the dataset.
func (s *PostgresStore) ListDatasetACLs(ctx context.Context, datasetID uuid.UUID) ([]domain.ACL, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, principal_id, dataset_id, permission_id, created_at
		FROM acls WHERE dataset_id = $1
		ORDER BY created_at
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list dataset acls: %w", err)
	}
	defer rows.Close()

	acls := make([]domain.ACL, 0)
	for rows.Next() {
		var a domain.ACL
		if err := rows.Scan(&a.ID, &a.PrincipalID, &a.DatasetID, &a.PermissionID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan acl: %w", err)
		}
		acls = append(acls, a)
	}
	return acls, rows.Err()
}

// AddDefaultPermission inserts into the default-permission table selected by
// scope. A duplicate row signals already-exists rather than silently
// succeeding.
func (s *PostgresStore) AddDefaultPermission(ctx context.Context, scope domain.DefaultPermissionScope, scopeID uuid.UUID, name domain.Permission) error {
	permID, err := s.EnsurePermission(ctx, name)
	if err != nil {
		return err
	}

	var stmt string
	switch scope {
	case domain.ScopeRole:
		stmt = `INSERT INTO role_default_permissions (role_id, permission_id, created_at) VALUES ($1, $2, NOW())`
	case domain.ScopeTenant:
		stmt = `INSERT INTO tenant_default_permissions (tenant_id, permission_id, created_at) VALUES ($1, $2, NOW())`
	case domain.ScopeUser:
		stmt = `INSERT INTO user_default_permissions (user_id, permission_id, created_at) VALUES ($1, $2, NOW())`
	default:
		return domain.Invalidf("unknown default-permission scope %q", scope)
	}

	if _, err := s.pool.Exec(ctx, stmt, scopeID, permID); err != nil {
		if isUniqueViolation(err) {
			return domain.Existsf("default permission %s for %s %s", name, scope, scopeID)
		}
		return fmt.Errorf("add default permission: %w", err)
	}
	return nil
}

// ListDefaultPermissions returns the permission names recorded for the scope.
func (s *PostgresStore) ListDefaultPermissions(ctx context.Context, scope domain.DefaultPermissionScope, scopeID uuid.UUID) ([]domain.Permission, error) {
	var stmt string
	switch scope {
	case domain.ScopeRole:
		stmt = `SELECT p.name FROM role_default_permissions d JOIN permissions p ON p.id = d.permission_id WHERE d.role_id = $1 ORDER BY p.name`
	case domain.ScopeTenant:
		stmt = `SELECT p.name FROM tenant_default_permissions d JOIN permissions p ON p.id = d.permission_id WHERE d.tenant_id = $1 ORDER BY p.name`
	case domain.ScopeUser:
		stmt = `SELECT p.name FROM user_default_permissions d JOIN permissions p ON p.id = d.permission_id WHERE d.user_id = $1 ORDER BY p.name`
	default:
		return nil, domain.Invalidf("unknown default-permission scope %q", scope)
	}

	rows, err := s.pool.Query(ctx, stmt, scopeID)
	if err != nil {
		return nil, fmt.Errorf("list default permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]domain.Permission, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan permission name: %w", err)
		}
		perms = append(perms, domain.Permission(name))
	}
	return perms, rows.Err()
}
