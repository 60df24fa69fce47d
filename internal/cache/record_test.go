package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
)

func TestRecordCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewInMemoryCache()
	defer backend.Close()
	rc := NewRecordCache(backend, time.Minute)

	rec := &domain.DatasetDatabase{
		ID:                     uuid.New(),
		OwnerID:                uuid.New(),
		DatasetID:              uuid.New(),
		VectorDatabaseProvider: "lancedb",
		GraphDatabaseProvider:  "kuzu",
	}

	if _, ok := rc.Get(ctx, rec.OwnerID, rec.DatasetID); ok {
		t.Fatal("expected miss before put")
	}

	rc.Put(ctx, rec)
	got, ok := rc.Get(ctx, rec.OwnerID, rec.DatasetID)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.ID != rec.ID || got.VectorDatabaseProvider != "lancedb" {
		t.Fatalf("unexpected record: %+v", got)
	}

	rc.Invalidate(ctx, rec.OwnerID, rec.DatasetID)
	if _, ok := rc.Get(ctx, rec.OwnerID, rec.DatasetID); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRecordCache_NilIsNoop(t *testing.T) {
	ctx := context.Background()
	var rc *RecordCache

	rc.Put(ctx, &domain.DatasetDatabase{})
	rc.Invalidate(ctx, uuid.New(), uuid.New())
	if _, ok := rc.Get(ctx, uuid.New(), uuid.New()); ok {
		t.Fatal("nil cache must always miss")
	}
}

func TestTieredCache_L2PopulatesL1(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemoryCache()
	l2 := NewInMemoryCache()
	defer l1.Close()
	defer l2.Close()
	tc := NewTieredCache(l1, l2, time.Minute)

	if err := l2.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("seed l2: %v", err)
	}
	val, err := tc.Get(ctx, "k")
	if err != nil || string(val) != "v" {
		t.Fatalf("get via l2: %v %q", err, val)
	}
	// L1 must now answer on its own.
	val, err = l1.Get(ctx, "k")
	if err != nil || string(val) != "v" {
		t.Fatalf("l1 not populated: %v %q", err, val)
	}
}

func TestInMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	defer c.Close()

	if err := c.Set(ctx, "k", []byte("v"), time.Nanosecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound after expiry, got %v", err)
	}
}
