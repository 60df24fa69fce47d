// Package accesscontrol centralizes every authorization decision. Storage
// components never embed permission logic; they call this engine once per
// operation and surface ErrPermissionDenied as the single failure signal.
package accesscontrol

import (
	"context"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/observability"
)

// Store is the relational surface the engine drives. *store.PostgresStore
// satisfies it.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	SetActiveTenant(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) error

	GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	CreateTenant(ctx context.Context, name string, ownerID uuid.UUID) (*domain.Tenant, error)
	IsTenantMember(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
	UserMembershipTenant(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error)
	AddTenantMember(ctx context.Context, tenantID, userID uuid.UUID) error
	RemoveTenantMember(ctx context.Context, tenantID, userID uuid.UUID) error

	CreateRole(ctx context.Context, name string, tenantID uuid.UUID) (*domain.Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (*domain.Role, error)
	AddRoleMember(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveRoleMember(ctx context.Context, userID, roleID uuid.UUID) error

	GrantPermission(ctx context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error
	RevokePermission(ctx context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error
	AddDefaultPermission(ctx context.Context, scope domain.DefaultPermissionScope, scopeID uuid.UUID, name domain.Permission) error
	HasDatasetPermission(ctx context.Context, userID, datasetID uuid.UUID, name domain.Permission) (bool, error)

	GetDataset(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
}

// Resolver maps dataset names or ID strings to canonical dataset IDs.
type Resolver interface {
	Resolve(ctx context.Context, nameOrID string, owner domain.Owner) (uuid.UUID, error)
}

// Engine enforces the principal/permission/ACL graph.
type Engine struct {
	store    Store
	resolver Resolver
}

func NewEngine(store Store, resolver Resolver) *Engine {
	return &Engine{store: store, resolver: resolver}
}

// HasManagementPermission succeeds only for the tenant's owner. Every
// membership-mutating operation calls this first.
func (e *Engine) HasManagementPermission(ctx context.Context, requesterID, tenantID uuid.UUID) error {
	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant.OwnerID != requesterID {
		return domain.Deniedf("user %s does not manage tenant %s", requesterID, tenantID)
	}
	return nil
}

// CreateTenant creates a tenant owned by ownerID and selects it as the
// owner's active tenant. A user with an active tenant cannot create another.
func (e *Engine) CreateTenant(ctx context.Context, name string, ownerID uuid.UUID) (*domain.Tenant, error) {
	owner, err := e.store.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner.TenantID != nil {
		return nil, domain.Existsf("user %s already has an active tenant", ownerID)
	}

	tenant, err := e.store.CreateTenant(ctx, name, ownerID)
	if err != nil {
		return nil, err
	}
	logging.Op().Info("tenant created", "tenant_id", tenant.ID, "name", tenant.Name, "owner_id", ownerID)
	return tenant, nil
}

// SelectTenant points the user's active tenant at tenantID, or back at the
// single-user context when tenantID is nil. Selecting a tenant requires an
// existing membership; the active-tenant pointer never implies one.
func (e *Engine) SelectTenant(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID) error {
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return err
	}
	if tenantID != nil {
		if _, err := e.store.GetTenant(ctx, *tenantID); err != nil {
			return err
		}
		member, err := e.store.IsTenantMember(ctx, *tenantID, userID)
		if err != nil {
			return err
		}
		if !member {
			return domain.Deniedf("user %s is not a member of tenant %s", userID, *tenantID)
		}
	}
	return e.store.SetActiveTenant(ctx, userID, tenantID)
}

// CreateRole creates a role inside the tenant. Requester must own the tenant.
func (e *Engine) CreateRole(ctx context.Context, name string, tenantID, requesterID uuid.UUID) (*domain.Role, error) {
	if err := e.HasManagementPermission(ctx, requesterID, tenantID); err != nil {
		return nil, err
	}
	return e.store.CreateRole(ctx, name, tenantID)
}

// AddUserToTenant enrolls a user into the tenant. Adding an existing member
// is a no-op; a user enrolled in a different tenant is rejected, since a user
// belongs to at most one tenant.
func (e *Engine) AddUserToTenant(ctx context.Context, userID, tenantID, requesterID uuid.UUID) error {
	if err := e.HasManagementPermission(ctx, requesterID, tenantID); err != nil {
		return err
	}
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return err
	}

	current, err := e.store.UserMembershipTenant(ctx, userID)
	if err != nil {
		return err
	}
	if current != nil {
		if *current == tenantID {
			return nil
		}
		return domain.Existsf("user %s already belongs to tenant %s", userID, *current)
	}
	return e.store.AddTenantMember(ctx, tenantID, userID)
}

// AddUserToRole enrolls a user into a role. The user must already be a
// member of the role's tenant.
func (e *Engine) AddUserToRole(ctx context.Context, userID, roleID, requesterID uuid.UUID) error {
	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := e.HasManagementPermission(ctx, requesterID, role.TenantID); err != nil {
		return err
	}

	member, err := e.store.IsTenantMember(ctx, role.TenantID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.Invalidf("user %s is not a member of tenant %s", userID, role.TenantID)
	}
	return e.store.AddRoleMember(ctx, userID, roleID)
}

// RemoveUserFromRole removes a user-role association. Tenant, membership and
// role scoping are validated up front; a missing association is NotFound.
func (e *Engine) RemoveUserFromRole(ctx context.Context, tenantID, userID, roleID, requesterID uuid.UUID) error {
	if _, err := e.store.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	if err := e.HasManagementPermission(ctx, requesterID, tenantID); err != nil {
		return err
	}

	member, err := e.store.IsTenantMember(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.NotFoundf("user %s is not a member of tenant %s", userID, tenantID)
	}

	role, err := e.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.TenantID != tenantID {
		return domain.NotFoundf("role %s does not belong to tenant %s", roleID, tenantID)
	}
	return e.store.RemoveRoleMember(ctx, userID, roleID)
}

// RemoveUserFromTenant removes a member and, transactionally, their role
// memberships and ACL grants on tenant-owned datasets. The tenant owner can
// never be removed from their own tenant. Data owned by the removed user
// stays.
func (e *Engine) RemoveUserFromTenant(ctx context.Context, userID, tenantID, requesterID uuid.UUID) error {
	tenant, err := e.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := e.HasManagementPermission(ctx, requesterID, tenantID); err != nil {
		return err
	}
	if userID == tenant.OwnerID {
		return domain.Invalidf("tenant owner cannot be removed from tenant %s", tenantID)
	}

	if err := e.store.RemoveTenantMember(ctx, tenantID, userID); err != nil {
		return err
	}
	logging.Op().Info("tenant member removed", "tenant_id", tenantID, "user_id", userID)
	return nil
}

// GivePermission grants the named permission on each dataset to the
// principal. The share requirement on the granter is enforced by the caller
// through AuthorizeDatasets; duplicate grants are no-ops.
func (e *Engine) GivePermission(ctx context.Context, principalID uuid.UUID, datasetIDs []uuid.UUID, name domain.Permission) error {
	for _, datasetID := range datasetIDs {
		if _, err := e.store.GetDataset(ctx, datasetID); err != nil {
			return err
		}
		if err := e.store.GrantPermission(ctx, principalID, datasetID, name); err != nil {
			return err
		}
	}
	return nil
}

// RevokePermission removes the principal's grant of the named permission on
// each dataset. A grant that never existed is NotFound; role and default
// grants the principal benefits from transitively are untouched.
func (e *Engine) RevokePermission(ctx context.Context, principalID uuid.UUID, datasetIDs []uuid.UUID, name domain.Permission) error {
	for _, datasetID := range datasetIDs {
		if _, err := e.store.GetDataset(ctx, datasetID); err != nil {
			return err
		}
		if err := e.store.RevokePermission(ctx, principalID, datasetID, name); err != nil {
			return err
		}
		logging.Op().Info("permission revoked",
			"principal_id", principalID, "dataset_id", datasetID, "permission", name)
	}
	return nil
}

// GiveDefaultPermission records a permission that future grants inherit for
// the scope. A duplicate entry is AlreadyExists.
func (e *Engine) GiveDefaultPermission(ctx context.Context, scope domain.DefaultPermissionScope, scopeID uuid.UUID, name domain.Permission) error {
	if !domain.ValidDefaultPermissionScope(scope) {
		return domain.Invalidf("unknown default-permission scope %q", scope)
	}
	return e.store.AddDefaultPermission(ctx, scope, scopeID, name)
}

// CheckPermission returns nil when the user holds the permission on the
// dataset, directly or through a role, and ErrPermissionDenied otherwise.
func (e *Engine) CheckPermission(ctx context.Context, userID, datasetID uuid.UUID, name domain.Permission) error {
	ctx, span := observability.StartSpan(ctx, "permission.check",
		observability.AttrUserID.String(userID.String()),
		observability.AttrDatasetID.String(datasetID.String()),
		observability.AttrPermission.String(string(name)))
	defer span.End()

	allowed, err := e.store.HasDatasetPermission(ctx, userID, datasetID, name)
	if err != nil {
		observability.SetSpanError(span, err)
		return err
	}
	metrics.RecordPermissionCheck(string(name), allowed)
	if !allowed {
		err := domain.Deniedf("user %s lacks %s on dataset %s", userID, name, datasetID)
		observability.SetSpanError(span, err)
		return err
	}
	observability.SetSpanOK(span)
	return nil
}

// AuthorizeDatasets resolves each name or ID and verifies the caller holds
// the required permission on all of them. One denial fails the whole call
// before any dataset is touched.
func (e *Engine) AuthorizeDatasets(ctx context.Context, owner domain.Owner, namesOrIDs []string, name domain.Permission) ([]*domain.Dataset, error) {
	datasets := make([]*domain.Dataset, 0, len(namesOrIDs))
	for _, ref := range namesOrIDs {
		id, err := e.resolver.Resolve(ctx, ref, owner)
		if err != nil {
			return nil, err
		}
		if err := e.CheckPermission(ctx, owner.UserID, id, name); err != nil {
			return nil, err
		}
		ds, err := e.store.GetDataset(ctx, id)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}
