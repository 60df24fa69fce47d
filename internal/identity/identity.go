// Package identity derives canonical dataset IDs. Dataset IDs are name-based
// UUIDs so that repeated create-if-absent calls for the same logical dataset
// resolve to the same row. Two generations of the scheme exist: the legacy
// derivation predates tenant scoping and stays authoritative for datasets
// created under it.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
)

// DatasetLookup is the single read the resolver performs against the
// relational store.
type DatasetLookup interface {
	DatasetExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Resolver maps a dataset name or UUID string to its canonical UUID.
// It is safe for concurrent use and performs no writes.
type Resolver struct {
	lookup DatasetLookup
}

// NewResolver creates a Resolver backed by the given lookup.
func NewResolver(lookup DatasetLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// LegacyID derives the pre-tenant dataset ID: UUIDv5 over name + owner.
func LegacyID(name string, ownerID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+ownerID.String()))
}

// ModernID derives the tenant-scoped dataset ID: UUIDv5 over
// name + owner + tenant. With no tenant it degenerates to LegacyID so
// single-user contexts keep one derivation.
func ModernID(name string, ownerID uuid.UUID, tenantID *uuid.UUID) uuid.UUID {
	if tenantID == nil {
		return LegacyID(name, ownerID)
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+ownerID.String()+tenantID.String()))
}

// Resolve returns the canonical dataset ID for nameOrID under owner.
//
// A UUID input is returned unchanged: explicit dataset selection always
// wins. For a name, the legacy ID wins if a dataset row already exists
// under it; otherwise the modern tenant-scoped ID is returned. The answer
// is deterministic for a fixed input and database state.
func (r *Resolver) Resolve(ctx context.Context, nameOrID string, owner domain.Owner) (uuid.UUID, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		return id, nil
	}
	if nameOrID == "" {
		return uuid.Nil, domain.Invalidf("dataset name is required")
	}

	legacy := LegacyID(nameOrID, owner.UserID)
	modern := ModernID(nameOrID, owner.UserID, owner.TenantID)
	if legacy == modern {
		return legacy, nil
	}

	exists, err := r.lookup.DatasetExists(ctx, legacy)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve dataset %q: %w", nameOrID, err)
	}
	if exists {
		return legacy, nil
	}
	return modern, nil
}
