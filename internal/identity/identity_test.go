package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
)

type lookupStub struct {
	existing map[uuid.UUID]bool
	calls    int
}

func (s *lookupStub) DatasetExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.calls++
	return s.existing[id], nil
}

func TestResolve_UUIDPassthrough(t *testing.T) {
	stub := &lookupStub{}
	r := NewResolver(stub)

	id := uuid.New()
	got, err := r.Resolve(context.Background(), id.String(), domain.Owner{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != id {
		t.Fatalf("got %s, want %s", got, id)
	}
	if stub.calls != 0 {
		t.Fatal("explicit id must not touch the store")
	}
}

func TestResolve_EmptyName(t *testing.T) {
	r := NewResolver(&lookupStub{})
	_, err := r.Resolve(context.Background(), "", domain.Owner{UserID: uuid.New()})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	stub := &lookupStub{existing: map[uuid.UUID]bool{}}
	r := NewResolver(stub)

	tenantID := uuid.New()
	owner := domain.Owner{UserID: uuid.New(), TenantID: &tenantID}

	first, err := r.Resolve(context.Background(), "reports", owner)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := r.Resolve(context.Background(), "reports", owner)
		if err != nil {
			t.Fatalf("resolve #%d: %v", i, err)
		}
		if got != first {
			t.Fatalf("resolution drifted: %s vs %s", got, first)
		}
	}
}

func TestResolve_LegacySticky(t *testing.T) {
	owner := domain.Owner{UserID: uuid.New()}
	tenantID := uuid.New()
	tenantOwner := domain.Owner{UserID: owner.UserID, TenantID: &tenantID}

	legacy := LegacyID("reports", owner.UserID)
	modern := ModernID("reports", owner.UserID, &tenantID)
	if legacy == modern {
		t.Fatal("test requires distinct candidate ids")
	}

	// No legacy row: the modern id wins.
	stub := &lookupStub{existing: map[uuid.UUID]bool{}}
	r := NewResolver(stub)
	got, err := r.Resolve(context.Background(), "reports", tenantOwner)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != modern {
		t.Fatalf("got %s, want modern %s", got, modern)
	}

	// A pre-tenant dataset row keeps the legacy id authoritative.
	stub = &lookupStub{existing: map[uuid.UUID]bool{legacy: true}}
	r = NewResolver(stub)
	got, err = r.Resolve(context.Background(), "reports", tenantOwner)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != legacy {
		t.Fatalf("got %s, want legacy %s", got, legacy)
	}
}

func TestResolve_NoTenantSkipsLookup(t *testing.T) {
	stub := &lookupStub{existing: map[uuid.UUID]bool{}}
	r := NewResolver(stub)

	owner := domain.Owner{UserID: uuid.New()}
	got, err := r.Resolve(context.Background(), "reports", owner)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != LegacyID("reports", owner.UserID) {
		t.Fatal("single-user context must use the legacy derivation")
	}
	if stub.calls != 0 {
		t.Fatal("identical candidates must skip the existence probe")
	}
}

func TestModernID_NilTenantDegenerates(t *testing.T) {
	ownerID := uuid.New()
	if ModernID("n", ownerID, nil) != LegacyID("n", ownerID) {
		t.Fatal("nil tenant must degenerate to the legacy derivation")
	}
}
