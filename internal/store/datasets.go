package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lorekeep/lorekeep/internal/domain"
)

func (s *PostgresStore) GetDataset(ctx context.Context, id uuid.UUID) (*domain.Dataset, error) {
	var d domain.Dataset
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, tenant_id, created_at, updated_at, last_accessed
		FROM datasets WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.OwnerID, &d.TenantID, &d.CreatedAt, &d.UpdatedAt, &d.LastAccessed)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("dataset %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &d, nil
}

// DatasetExists is the existence probe used by the identity resolver.
func (s *PostgresStore) DatasetExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM datasets WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dataset exists: %w", err)
	}
	return exists, nil
}

// CreateDatasetIfAbsent inserts a dataset row keyed by its pre-derived ID.
// The deterministic primary key makes concurrent first-use idempotent: the
// loser of an insert race re-reads the winner's row.
func (s *PostgresStore) CreateDatasetIfAbsent(ctx context.Context, id uuid.UUID, name string, owner domain.Owner) (*domain.Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalidf("dataset name is required")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO datasets (id, name, owner_id, tenant_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, name, owner.UserID, owner.TenantID)
	if err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}
	return s.GetDataset(ctx, id)
}

// DeleteDataset removes the dataset row. ACLs, data items and the
// dataset-database record go with it via ON DELETE CASCADE.
func (s *PostgresStore) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFoundf("dataset %s", id)
	}
	return nil
}

// ListTenantDatasets returns the datasets owned under a tenant.
func (s *PostgresStore) ListTenantDatasets(ctx context.Context, tenantID uuid.UUID) ([]*domain.Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, owner_id, tenant_id, created_at, updated_at, last_accessed
		FROM datasets WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tenant datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]*domain.Dataset, 0)
	for rows.Next() {
		var d domain.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.OwnerID, &d.TenantID, &d.CreatedAt, &d.UpdatedAt, &d.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, &d)
	}
	return datasets, rows.Err()
}
