package accesscontrol

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/domain"
)

// fakeStore is an in-memory Store good enough for engine semantics.
type fakeStore struct {
	users         map[uuid.UUID]*domain.User
	tenants       map[uuid.UUID]*domain.Tenant
	roles         map[uuid.UUID]*domain.Role
	datasets      map[uuid.UUID]*domain.Dataset
	tenantMembers map[uuid.UUID]map[uuid.UUID]bool // tenant -> users
	roleMembers   map[uuid.UUID]map[uuid.UUID]bool // role -> users
	grants        map[string]bool                  // principal|dataset|perm
	defaults      map[string]bool                  // scope|id|perm
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[uuid.UUID]*domain.User),
		tenants:       make(map[uuid.UUID]*domain.Tenant),
		roles:         make(map[uuid.UUID]*domain.Role),
		datasets:      make(map[uuid.UUID]*domain.Dataset),
		tenantMembers: make(map[uuid.UUID]map[uuid.UUID]bool),
		roleMembers:   make(map[uuid.UUID]map[uuid.UUID]bool),
		grants:        make(map[string]bool),
		defaults:      make(map[string]bool),
	}
}

func grantKey(principal, dataset uuid.UUID, perm domain.Permission) string {
	return fmt.Sprintf("%s|%s|%s", principal, dataset, perm)
}

func (f *fakeStore) addUser(email string) *domain.User {
	u := &domain.User{ID: uuid.New(), Email: email, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, domain.NotFoundf("user %s", id)
	}
	return u, nil
}

func (f *fakeStore) SetActiveTenant(_ context.Context, userID uuid.UUID, tenantID *uuid.UUID) error {
	u, ok := f.users[userID]
	if !ok {
		return domain.NotFoundf("user %s", userID)
	}
	u.TenantID = tenantID
	return nil
}

func (f *fakeStore) GetTenant(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, domain.NotFoundf("tenant %s", id)
	}
	return t, nil
}

func (f *fakeStore) CreateTenant(_ context.Context, name string, ownerID uuid.UUID) (*domain.Tenant, error) {
	for _, t := range f.tenants {
		if t.Name == name {
			return nil, domain.Existsf("tenant %q", name)
		}
	}
	t := &domain.Tenant{ID: uuid.New(), Name: name, OwnerID: ownerID}
	f.tenants[t.ID] = t
	f.tenantMembers[t.ID] = map[uuid.UUID]bool{ownerID: true}
	id := t.ID
	f.users[ownerID].TenantID = &id
	return t, nil
}

func (f *fakeStore) IsTenantMember(_ context.Context, tenantID, userID uuid.UUID) (bool, error) {
	return f.tenantMembers[tenantID][userID], nil
}

func (f *fakeStore) UserMembershipTenant(_ context.Context, userID uuid.UUID) (*uuid.UUID, error) {
	for tid, members := range f.tenantMembers {
		if members[userID] {
			id := tid
			return &id, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AddTenantMember(_ context.Context, tenantID, userID uuid.UUID) error {
	if f.tenantMembers[tenantID] == nil {
		f.tenantMembers[tenantID] = make(map[uuid.UUID]bool)
	}
	f.tenantMembers[tenantID][userID] = true
	return nil
}

func (f *fakeStore) RemoveTenantMember(_ context.Context, tenantID, userID uuid.UUID) error {
	if !f.tenantMembers[tenantID][userID] {
		return domain.NotFoundf("user %s is not a member of tenant %s", userID, tenantID)
	}
	delete(f.tenantMembers[tenantID], userID)
	for rid, r := range f.roles {
		if r.TenantID == tenantID {
			delete(f.roleMembers[rid], userID)
		}
	}
	for _, ds := range f.datasets {
		if ds.TenantID != nil && *ds.TenantID == tenantID {
			for _, perm := range domain.DefaultDatasetPermissions {
				delete(f.grants, grantKey(userID, ds.ID, perm))
			}
		}
	}
	if u := f.users[userID]; u != nil && u.TenantID != nil && *u.TenantID == tenantID {
		u.TenantID = nil
	}
	return nil
}

func (f *fakeStore) CreateRole(_ context.Context, name string, tenantID uuid.UUID) (*domain.Role, error) {
	for _, r := range f.roles {
		if r.TenantID == tenantID && r.Name == name {
			return nil, domain.Existsf("role %q in tenant %s", name, tenantID)
		}
	}
	r := &domain.Role{ID: uuid.New(), Name: name, TenantID: tenantID}
	f.roles[r.ID] = r
	f.roleMembers[r.ID] = make(map[uuid.UUID]bool)
	return r, nil
}

func (f *fakeStore) GetRole(_ context.Context, id uuid.UUID) (*domain.Role, error) {
	r, ok := f.roles[id]
	if !ok {
		return nil, domain.NotFoundf("role %s", id)
	}
	return r, nil
}

func (f *fakeStore) AddRoleMember(_ context.Context, userID, roleID uuid.UUID) error {
	f.roleMembers[roleID][userID] = true
	return nil
}

func (f *fakeStore) RemoveRoleMember(_ context.Context, userID, roleID uuid.UUID) error {
	if !f.roleMembers[roleID][userID] {
		return domain.NotFoundf("user %s has no membership in role %s", userID, roleID)
	}
	delete(f.roleMembers[roleID], userID)
	return nil
}

func (f *fakeStore) GrantPermission(_ context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error {
	f.grants[grantKey(principalID, datasetID, name)] = true
	return nil
}

func (f *fakeStore) RevokePermission(_ context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error {
	key := grantKey(principalID, datasetID, name)
	if !f.grants[key] {
		return domain.NotFoundf("no %s grant on dataset %s for principal %s", name, datasetID, principalID)
	}
	delete(f.grants, key)
	return nil
}

func (f *fakeStore) AddDefaultPermission(_ context.Context, scope domain.DefaultPermissionScope, scopeID uuid.UUID, name domain.Permission) error {
	key := fmt.Sprintf("%s|%s|%s", scope, scopeID, name)
	if f.defaults[key] {
		return domain.Existsf("default permission %s for %s %s", name, scope, scopeID)
	}
	f.defaults[key] = true
	return nil
}

func (f *fakeStore) HasDatasetPermission(_ context.Context, userID, datasetID uuid.UUID, name domain.Permission) (bool, error) {
	if f.grants[grantKey(userID, datasetID, name)] {
		return true, nil
	}
	for rid, members := range f.roleMembers {
		if members[userID] && f.grants[grantKey(rid, datasetID, name)] {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetDataset(_ context.Context, id uuid.UUID) (*domain.Dataset, error) {
	ds, ok := f.datasets[id]
	if !ok {
		return nil, domain.NotFoundf("dataset %s", id)
	}
	return ds, nil
}

func (f *fakeStore) addDataset(name string, ownerID uuid.UUID, tenantID *uuid.UUID) *domain.Dataset {
	ds := &domain.Dataset{ID: uuid.New(), Name: name, OwnerID: ownerID, TenantID: tenantID}
	f.datasets[ds.ID] = ds
	return ds
}

type fixedResolver struct {
	ids map[string]uuid.UUID
}

func (r fixedResolver) Resolve(_ context.Context, nameOrID string, _ domain.Owner) (uuid.UUID, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		return id, nil
	}
	id, ok := r.ids[nameOrID]
	if !ok {
		return uuid.Nil, domain.NotFoundf("dataset %q", nameOrID)
	}
	return id, nil
}

func TestCreateTenant_RejectsSecondActiveTenant(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	owner := fs.addUser("a@example.com")
	if _, err := engine.CreateTenant(ctx, "lab", owner.ID); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	_, err := engine.CreateTenant(ctx, "lab-2", owner.ID)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestHasManagementPermission(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	owner := fs.addUser("owner@example.com")
	other := fs.addUser("other@example.com")
	tenant, _ := engine.CreateTenant(ctx, "lab", owner.ID)

	if err := engine.HasManagementPermission(ctx, owner.ID, tenant.ID); err != nil {
		t.Fatalf("owner must manage own tenant: %v", err)
	}
	err := engine.HasManagementPermission(ctx, other.ID, tenant.ID)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied, got %v", err)
	}
}

func TestAddUserToTenant(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	ownerA := fs.addUser("a@example.com")
	ownerB := fs.addUser("b@example.com")
	member := fs.addUser("m@example.com")
	tenantA, _ := engine.CreateTenant(ctx, "alpha", ownerA.ID)
	tenantB, _ := engine.CreateTenant(ctx, "beta", ownerB.ID)

	if err := engine.AddUserToTenant(ctx, member.ID, tenantA.ID, ownerA.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// Same tenant again is a no-op.
	if err := engine.AddUserToTenant(ctx, member.ID, tenantA.ID, ownerA.ID); err != nil {
		t.Fatalf("re-add member: %v", err)
	}
	// A different tenant is rejected.
	err := engine.AddUserToTenant(ctx, member.ID, tenantB.ID, ownerB.ID)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
	// Non-owner requester is denied.
	stranger := fs.addUser("s@example.com")
	err = engine.AddUserToTenant(ctx, stranger.ID, tenantA.ID, ownerB.ID)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied, got %v", err)
	}
}

func TestRemoveUserFromTenant_OwnerImmutable(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	owner := fs.addUser("owner@example.com")
	tenant, _ := engine.CreateTenant(ctx, "lab", owner.ID)

	err := engine.RemoveUserFromTenant(ctx, owner.ID, tenant.ID, owner.ID)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
	member, _ := fs.IsTenantMember(ctx, tenant.ID, owner.ID)
	if !member {
		t.Fatal("owner membership must survive")
	}
}

func TestRemoveUserFromRole_Validations(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	owner := fs.addUser("owner@example.com")
	member := fs.addUser("m@example.com")
	outsider := fs.addUser("o@example.com")
	tenant, _ := engine.CreateTenant(ctx, "lab", owner.ID)
	role, _ := engine.CreateRole(ctx, "researcher", tenant.ID, owner.ID)
	if err := engine.AddUserToTenant(ctx, member.ID, tenant.ID, owner.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	// Not a tenant member.
	err := engine.RemoveUserFromRole(ctx, tenant.ID, outsider.ID, role.ID, owner.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound for non-member, got %v", err)
	}
	// Member but no role association.
	err = engine.RemoveUserFromRole(ctx, tenant.ID, member.ID, role.ID, owner.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing association, got %v", err)
	}
	// Happy path.
	if err := engine.AddUserToRole(ctx, member.ID, role.ID, owner.ID); err != nil {
		t.Fatalf("add to role: %v", err)
	}
	if err := engine.RemoveUserFromRole(ctx, tenant.ID, member.ID, role.ID, owner.ID); err != nil {
		t.Fatalf("remove from role: %v", err)
	}
}

func TestRevokePermission(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	user := fs.addUser("u@example.com")
	ds := fs.addDataset("notes", user.ID, nil)

	if err := engine.GivePermission(ctx, user.ID, []uuid.UUID{ds.ID}, domain.PermRead); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := engine.CheckPermission(ctx, user.ID, ds.ID, domain.PermRead); err != nil {
		t.Fatalf("check after grant: %v", err)
	}

	if err := engine.RevokePermission(ctx, user.ID, []uuid.UUID{ds.ID}, domain.PermRead); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err := engine.CheckPermission(ctx, user.ID, ds.ID, domain.PermRead)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied after revoke, got %v", err)
	}

	// Revoking an absent grant is NotFound, as is an unknown dataset.
	err = engine.RevokePermission(ctx, user.ID, []uuid.UUID{ds.ID}, domain.PermRead)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound for missing grant, got %v", err)
	}
	err = engine.RevokePermission(ctx, user.ID, []uuid.UUID{uuid.New()}, domain.PermRead)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown dataset, got %v", err)
	}
}

func TestGiveDefaultPermission(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	engine := NewEngine(fs, fixedResolver{})

	id := uuid.New()
	if err := engine.GiveDefaultPermission(ctx, domain.ScopeRole, id, domain.PermRead); err != nil {
		t.Fatalf("give default: %v", err)
	}
	err := engine.GiveDefaultPermission(ctx, domain.ScopeRole, id, domain.PermRead)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
	err = engine.GiveDefaultPermission(ctx, "group", id, domain.PermRead)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want ErrValidation for unknown scope, got %v", err)
	}
}

// Covers the full membership lifecycle: role-mediated read access appears
// when the role is granted and disappears when the member leaves the tenant.
func TestTenantMembershipLifecycle(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()

	userA := fs.addUser("a@example.com")
	userB := fs.addUser("b@example.com")

	engine := NewEngine(fs, fixedResolver{})

	lab, err := engine.CreateTenant(ctx, "Lab", userA.ID)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := engine.AddUserToTenant(ctx, userB.ID, lab.ID, userA.ID); err != nil {
		t.Fatalf("add B to Lab: %v", err)
	}
	researcher, err := engine.CreateRole(ctx, "Researcher", lab.ID, userA.ID)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := engine.AddUserToRole(ctx, userB.ID, researcher.ID, userA.ID); err != nil {
		t.Fatalf("add B to Researcher: %v", err)
	}

	labID := lab.ID
	quantum := fs.addDataset("Quantum", userA.ID, &labID)
	if err := engine.GivePermission(ctx, researcher.ID, []uuid.UUID{quantum.ID}, domain.PermRead); err != nil {
		t.Fatalf("grant read to Researcher: %v", err)
	}

	if err := engine.CheckPermission(ctx, userB.ID, quantum.ID, domain.PermRead); err != nil {
		t.Fatalf("B should read Quantum via Researcher: %v", err)
	}

	if err := engine.RemoveUserFromTenant(ctx, userB.ID, lab.ID, userA.ID); err != nil {
		t.Fatalf("remove B from Lab: %v", err)
	}

	err = engine.CheckPermission(ctx, userB.ID, quantum.ID, domain.PermRead)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("B must lose read after removal, got %v", err)
	}
	if fs.roleMembers[researcher.ID][userB.ID] {
		t.Fatal("B must not remain in Researcher")
	}
	if _, err := fs.GetDataset(ctx, quantum.ID); err != nil {
		t.Fatalf("tenant datasets must survive member removal: %v", err)
	}
}

func TestAuthorizeDatasets(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()

	user := fs.addUser("u@example.com")
	ds := fs.addDataset("notes", user.ID, nil)
	engine := NewEngine(fs, fixedResolver{ids: map[string]uuid.UUID{"notes": ds.ID}})

	owner := domain.Owner{UserID: user.ID}

	// No grant yet.
	_, err := engine.AuthorizeDatasets(ctx, owner, []string{"notes"}, domain.PermRead)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied, got %v", err)
	}

	if err := fs.GrantPermission(ctx, user.ID, ds.ID, domain.PermRead); err != nil {
		t.Fatalf("grant: %v", err)
	}
	got, err := engine.AuthorizeDatasets(ctx, owner, []string{"notes", ds.ID.String()}, domain.PermRead)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if len(got) != 2 || got[0].ID != ds.ID || got[1].ID != ds.ID {
		t.Fatalf("unexpected datasets: %+v", got)
	}
}
