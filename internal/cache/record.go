package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
)

// DefaultRecordTTL bounds how long a cached dataset-database record may lag
// behind the relational store.
const DefaultRecordTTL = 5 * time.Minute

// RecordCache caches DatasetDatabase rows keyed by (owner, dataset). A nil
// RecordCache is valid and caches nothing.
type RecordCache struct {
	backend Cache
	ttl     time.Duration
}

// NewRecordCache wraps a backend. Zero ttl means DefaultRecordTTL.
func NewRecordCache(backend Cache, ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &RecordCache{backend: backend, ttl: ttl}
}

func recordKey(ownerID, datasetID uuid.UUID) string {
	return fmt.Sprintf("dsdb:%s:%s", ownerID, datasetID)
}

// Get returns the cached record, or (nil, false) on a miss. Backend errors
// count as misses; the relational store is authoritative.
func (rc *RecordCache) Get(ctx context.Context, ownerID, datasetID uuid.UUID) (*domain.DatasetDatabase, bool) {
	if rc == nil {
		return nil, false
	}
	raw, err := rc.backend.Get(ctx, recordKey(ownerID, datasetID))
	if err != nil {
		return nil, false
	}
	var rec domain.DatasetDatabase
	if err := json.Unmarshal(raw, &rec); err != nil {
		_ = rc.backend.Delete(ctx, recordKey(ownerID, datasetID))
		return nil, false
	}
	return &rec, true
}

// Put stores the record; failures are ignored.
func (rc *RecordCache) Put(ctx context.Context, rec *domain.DatasetDatabase) {
	if rc == nil || rec == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = rc.backend.Set(ctx, recordKey(rec.OwnerID, rec.DatasetID), raw, rc.ttl)
}

// Invalidate drops the cached record after a teardown.
func (rc *RecordCache) Invalidate(ctx context.Context, ownerID, datasetID uuid.UUID) {
	if rc == nil {
		return
	}
	_ = rc.backend.Delete(ctx, recordKey(ownerID, datasetID))
}
