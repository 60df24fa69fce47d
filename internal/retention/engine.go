package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
)

// DB is the slice of pgxpool.Pool the engine needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// CollectionStats summarizes access recency for one collection.
type CollectionStats struct {
	Total              int64   `json:"total"`
	NeverAccessed      int64   `json:"never_accessed"`
	RecentlyAccessed   int64   `json:"recently_accessed"`
	AccessedPercentage float64 `json:"accessed_percentage"`
}

// Engine implements discovery, counting and deletion over the tracked
// collections. It decides nothing about what counts as access; callers mark
// access via UpdateLastAccessed and friends.
type Engine struct {
	db       DB
	registry *Registry
}

// NewEngine builds an Engine over the relational store.
func NewEngine(db DB, registry *Registry) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Engine{db: db, registry: registry}
}

// Registry exposes the registry so tenant-custom schemas can enroll their
// collections.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// unusedPredicate matches rows idle for more than thresholdDays. Rows never
// accessed count as unused.
const unusedPredicate = `(last_accessed IS NULL OR last_accessed < NOW() - make_interval(days => $1))`

func qualify(h CollectionHandle) string {
	return pgx.Identifier{h.Schema, h.Name}.Sanitize()
}

// TrackedCollections returns every registered collection that currently has
// a last_accessed column, optionally filtered to one schema. Discovery runs
// against live schema metadata so collections added after startup are seen.
func (e *Engine) TrackedCollections(ctx context.Context, schema string) ([]CollectionHandle, error) {
	rows, err := e.db.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.columns
		WHERE column_name = 'last_accessed'
		  AND ($1 = '' OR table_schema = $1)
		ORDER BY table_schema, table_name
	`, schema)
	if err != nil {
		return nil, fmt.Errorf("discover tracked collections: %w", err)
	}
	defer rows.Close()

	handles := make([]CollectionHandle, 0)
	for rows.Next() {
		var h CollectionHandle
		if err := rows.Scan(&h.Schema, &h.Name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		if e.registry.Contains(h.Schema, h.Name) {
			handles = append(handles, h)
		}
	}
	return handles, rows.Err()
}

// UnusedCounts counts, per tracked collection, the rows idle for more than
// thresholdDays.
func (e *Engine) UnusedCounts(ctx context.Context, thresholdDays int, schema string) (map[string]int64, error) {
	if thresholdDays < 0 {
		return nil, domain.Invalidf("threshold days must be non-negative, got %d", thresholdDays)
	}
	handles, err := e.TrackedCollections(ctx, schema)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(handles))
	for _, h := range handles {
		var n int64
		err := e.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM `+qualify(h)+` WHERE `+unusedPredicate,
			thresholdDays,
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count unused in %s: %w", h, err)
		}
		counts[h.String()] = n
	}
	return counts, nil
}

// Statistics returns per-collection access statistics: totals, rows never
// accessed, rows touched within the last 7 days, and the share of rows
// accessed at least once.
func (e *Engine) Statistics(ctx context.Context, schema string) (map[string]CollectionStats, error) {
	handles, err := e.TrackedCollections(ctx, schema)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]CollectionStats, len(handles))
	for _, h := range handles {
		var s CollectionStats
		err := e.db.QueryRow(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE last_accessed IS NULL),
			       COUNT(*) FILTER (WHERE last_accessed >= NOW() - INTERVAL '7 days')
			FROM `+qualify(h),
		).Scan(&s.Total, &s.NeverAccessed, &s.RecentlyAccessed)
		if err != nil {
			return nil, fmt.Errorf("collect statistics for %s: %w", h, err)
		}
		s.AccessedPercentage = accessedPercentage(s.Total, s.NeverAccessed)
		stats[h.String()] = s
	}
	return stats, nil
}

func accessedPercentage(total, neverAccessed int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(total-neverAccessed) / float64(total) * 100
}

// DeleteUnused removes rows idle for more than thresholdDays from every
// tracked collection and returns deleted counts per collection. With dryRun
// it only counts. Each collection runs in its own transaction; a failing
// collection is logged, reported as 0 and rolled back alone, and the sweep
// moves on.
func (e *Engine) DeleteUnused(ctx context.Context, thresholdDays int, schema string, dryRun bool) (map[string]int64, error) {
	if thresholdDays < 0 {
		return nil, domain.Invalidf("threshold days must be non-negative, got %d", thresholdDays)
	}
	if dryRun {
		return e.UnusedCounts(ctx, thresholdDays, schema)
	}

	handles, err := e.TrackedCollections(ctx, schema)
	if err != nil {
		return nil, err
	}

	log := logging.Op()
	deleted := make(map[string]int64, len(handles))
	for _, h := range handles {
		n, err := e.deleteUnusedIn(ctx, h, thresholdDays)
		if err != nil {
			log.Error("retention delete failed", "collection", h.String(), "error", err)
			deleted[h.String()] = 0
			continue
		}
		deleted[h.String()] = n
		metrics.RecordRetentionDeleted(h.String(), int(n))
		if n > 0 {
			log.Info("retention deleted unused rows", "collection", h.String(), "count", n)
		}
	}
	return deleted, nil
}

func (e *Engine) deleteUnusedIn(ctx context.Context, h CollectionHandle, thresholdDays int) (int64, error) {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin retention tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`DELETE FROM `+qualify(h)+` WHERE `+unusedPredicate,
		thresholdDays,
	)
	if err != nil {
		return 0, fmt.Errorf("delete unused: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit retention tx: %w", err)
	}
	return ct.RowsAffected(), nil
}

// UpdateLastAccessed stamps the given entities as accessed now.
func (e *Engine) UpdateLastAccessed(ctx context.Context, schema, collection string, entityIDs []uuid.UUID) error {
	if len(entityIDs) == 0 {
		return nil
	}
	if schema == "" {
		schema = DefaultSchema
	}
	if !e.registry.Contains(schema, collection) {
		return domain.NotFoundf("collection %s.%s is not retention-tracked", schema, collection)
	}

	h := CollectionHandle{Schema: schema, Name: collection}
	_, err := e.db.Exec(ctx,
		`UPDATE `+qualify(h)+` SET last_accessed = NOW() WHERE id = ANY($1)`,
		entityIDs,
	)
	if err != nil {
		return fmt.Errorf("update last accessed in %s: %w", collection, err)
	}
	return nil
}

// BulkUpdateLastAccessed applies UpdateLastAccessed across collections. A
// failing collection does not abort the batch; its error is joined into the
// result after every collection has been attempted.
func (e *Engine) BulkUpdateLastAccessed(ctx context.Context, schema string, updates map[string][]uuid.UUID) error {
	var errs []error
	for collection, ids := range updates {
		if err := e.UpdateLastAccessed(ctx, schema, collection, ids); err != nil {
			logging.Op().Warn("bulk access update failed", "collection", collection, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MarkEntityAccessed is single-entity sugar over UpdateLastAccessed. Access
// marking is a best-effort side channel, so failures are logged and reported
// as false rather than propagated; the read or write it accompanies must
// never fail on its account.
func (e *Engine) MarkEntityAccessed(ctx context.Context, schema, collection string, entityID uuid.UUID) bool {
	if err := e.UpdateLastAccessed(ctx, schema, collection, []uuid.UUID{entityID}); err != nil {
		logging.Op().Warn("mark entity accessed failed", "collection", collection, "entity_id", entityID, "error", err)
		return false
	}
	return true
}
