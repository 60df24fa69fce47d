package domain

import (
	"time"

	"github.com/google/uuid"
)

// Permission is a named capability, globally deduplicated by name.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermShare  Permission = "share"
	PermDelete Permission = "delete"
)

// DefaultDatasetPermissions are granted to a dataset's owner on creation.
var DefaultDatasetPermissions = []Permission{PermRead, PermWrite, PermShare, PermDelete}

// Owner carries the identity a call runs under: the user plus the tenant
// context the user currently operates in. The tenant pointer is explicit
// call state, not a historical membership record; a nil TenantID means the
// user's single-user context.
type Owner struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
}

// User is a principal with at most one active tenant at a time.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	TenantID  *uuid.UUID `json:"tenant_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Tenant is a principal owning roles and member users.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a principal scoped to exactly one tenant; (tenant_id, name) is
// unique. Role grants apply transitively to member users.
type Role struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	TenantID  uuid.UUID `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ACL grants one permission on one dataset to one principal.
type ACL struct {
	ID           uuid.UUID `json:"id"`
	PrincipalID  uuid.UUID `json:"principal_id"`
	DatasetID    uuid.UUID `json:"dataset_id"`
	PermissionID uuid.UUID `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// DefaultPermissionScope selects which default-permission table a grant
// lands in.
type DefaultPermissionScope string

const (
	ScopeRole   DefaultPermissionScope = "role"
	ScopeTenant DefaultPermissionScope = "tenant"
	ScopeUser   DefaultPermissionScope = "user"
)

// ValidDefaultPermissionScope returns true for a known scope kind.
func ValidDefaultPermissionScope(s DefaultPermissionScope) bool {
	switch s {
	case ScopeRole, ScopeTenant, ScopeUser:
		return true
	}
	return false
}
