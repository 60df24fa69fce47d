package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the shared relational metadata store. All tenants and
// components share it; isolation is enforced at the application layer.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying connection pool for components that operate on
// the relational store directly (the retention engine).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			tenant_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			owner_id UUID NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_users (
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, role_id)
		)`,
		`CREATE TABLE IF NOT EXISTS permissions (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS datasets (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id UUID NOT NULL REFERENCES users(id),
			tenant_id UUID REFERENCES tenants(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_accessed TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_owner ON datasets(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_datasets_tenant ON datasets(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS data_items (
			id UUID PRIMARY KEY,
			dataset_id UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			token_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_accessed TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_data_items_dataset ON data_items(dataset_id)`,
		`CREATE TABLE IF NOT EXISTS acls (
			id UUID PRIMARY KEY,
			principal_id UUID NOT NULL,
			dataset_id UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			permission_id UUID NOT NULL REFERENCES permissions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (principal_id, dataset_id, permission_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acls_principal ON acls(principal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_acls_dataset ON acls(dataset_id)`,
		`CREATE TABLE IF NOT EXISTS dataset_databases (
			id UUID PRIMARY KEY,
			owner_id UUID NOT NULL REFERENCES users(id),
			dataset_id UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			vector_database_name TEXT NOT NULL,
			vector_database_url TEXT NOT NULL DEFAULT '',
			vector_database_provider TEXT NOT NULL,
			vector_database_key TEXT NOT NULL DEFAULT '',
			graph_database_name TEXT NOT NULL,
			graph_database_url TEXT NOT NULL DEFAULT '',
			graph_database_provider TEXT NOT NULL,
			graph_database_key TEXT NOT NULL DEFAULT '',
			graph_database_username TEXT NOT NULL DEFAULT '',
			graph_database_password TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (owner_id, dataset_id)
		)`,
		`CREATE TABLE IF NOT EXISTS role_default_permissions (
			role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			permission_id UUID NOT NULL REFERENCES permissions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (role_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tenant_default_permissions (
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			permission_id UUID NOT NULL REFERENCES permissions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tenant_id, permission_id)
		)`,
		`CREATE TABLE IF NOT EXISTS user_default_permissions (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			permission_id UUID NOT NULL REFERENCES permissions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, permission_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint violation.
// Races on create-if-absent paths are resolved by catching this and
// re-reading rather than by locking.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}
