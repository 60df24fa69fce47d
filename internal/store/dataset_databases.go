package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lorekeep/lorekeep/internal/domain"
)

const datasetDatabaseColumns = `
	id, owner_id, dataset_id,
	vector_database_name, vector_database_url, vector_database_provider, vector_database_key,
	graph_database_name, graph_database_url, graph_database_provider, graph_database_key,
	graph_database_username, graph_database_password,
	created_at, updated_at`

func scanDatasetDatabase(row pgx.Row) (*domain.DatasetDatabase, error) {
	var r domain.DatasetDatabase
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.DatasetID,
		&r.VectorDatabaseName, &r.VectorDatabaseURL, &r.VectorDatabaseProvider, &r.VectorDatabaseKey,
		&r.GraphDatabaseName, &r.GraphDatabaseURL, &r.GraphDatabaseProvider, &r.GraphDatabaseKey,
		&r.GraphDatabaseUsername, &r.GraphDatabasePassword,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetDatasetDatabase returns the storage-location record for (owner, dataset),
// or ErrNotFound if provisioning has never completed.
func (s *PostgresStore) GetDatasetDatabase(ctx context.Context, ownerID, datasetID uuid.UUID) (*domain.DatasetDatabase, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+datasetDatabaseColumns+`
		FROM dataset_databases
		WHERE owner_id = $1 AND dataset_id = $2
	`, ownerID, datasetID)

	rec, err := scanDatasetDatabase(row)
	if err == pgx.ErrNoRows {
		return nil, domain.NotFoundf("dataset database for dataset %s", datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset database: %w", err)
	}
	return rec, nil
}

// InsertDatasetDatabase inserts the storage-location record inside a
// transaction. If a concurrent caller won the provisioning race, the unique
// constraint on (owner_id, dataset_id) fires and the now-existing row is
// returned instead of an error.
func (s *PostgresStore) InsertDatasetDatabase(ctx context.Context, rec *domain.DatasetDatabase) (*domain.DatasetDatabase, error) {
	if rec == nil {
		return nil, domain.Invalidf("dataset database record is required")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin dataset database tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO dataset_databases (
			id, owner_id, dataset_id,
			vector_database_name, vector_database_url, vector_database_provider, vector_database_key,
			graph_database_name, graph_database_url, graph_database_provider, graph_database_key,
			graph_database_username, graph_database_password,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`,
		rec.ID, rec.OwnerID, rec.DatasetID,
		rec.VectorDatabaseName, rec.VectorDatabaseURL, rec.VectorDatabaseProvider, rec.VectorDatabaseKey,
		rec.GraphDatabaseName, rec.GraphDatabaseURL, rec.GraphDatabaseProvider, rec.GraphDatabaseKey,
		rec.GraphDatabaseUsername, rec.GraphDatabasePassword,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent caller won; surface their row.
			return s.GetDatasetDatabase(ctx, rec.OwnerID, rec.DatasetID)
		}
		return nil, fmt.Errorf("insert dataset database: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dataset database tx: %w", err)
	}
	return s.GetDatasetDatabase(ctx, rec.OwnerID, rec.DatasetID)
}

// DeleteDatasetDatabase removes the storage-location record.
func (s *PostgresStore) DeleteDatasetDatabase(ctx context.Context, ownerID, datasetID uuid.UUID) error {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM dataset_databases WHERE owner_id = $1 AND dataset_id = $2
	`, ownerID, datasetID)
	if err != nil {
		return fmt.Errorf("delete dataset database: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.NotFoundf("dataset database for dataset %s", datasetID)
	}
	return nil
}
