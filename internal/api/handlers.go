package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/accesscontrol"
	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/provision"
	"github.com/lorekeep/lorekeep/internal/retention"
	"github.com/lorekeep/lorekeep/internal/store"
)

// Handler handles management HTTP requests.
type Handler struct {
	Store       *store.PostgresStore
	Engine      *accesscontrol.Engine
	Provisioner *provision.Provisioner
	Retention   *retention.Engine
}

// RegisterRoutes registers all management routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Users
	mux.HandleFunc("POST /users", h.CreateUser)
	mux.HandleFunc("GET /users/{id}", h.GetUser)
	mux.HandleFunc("PUT /users/{id}/tenant", h.SelectTenant)
	mux.HandleFunc("GET /users/{id}/datasets", h.ListUserDatasets)
	mux.HandleFunc("GET /users/{id}/roles", h.ListUserRoles)

	// Tenants and roles
	mux.HandleFunc("POST /tenants", h.CreateTenant)
	mux.HandleFunc("GET /tenants/{id}", h.GetTenant)
	mux.HandleFunc("GET /tenants/{id}/datasets", h.ListTenantDatasets)
	mux.HandleFunc("POST /tenants/{id}/users", h.AddUserToTenant)
	mux.HandleFunc("DELETE /tenants/{id}/users/{user_id}", h.RemoveUserFromTenant)
	mux.HandleFunc("POST /tenants/{id}/roles", h.CreateRole)
	mux.HandleFunc("POST /roles/{id}/users", h.AddUserToRole)
	mux.HandleFunc("DELETE /tenants/{id}/roles/{role_id}/users/{user_id}", h.RemoveUserFromRole)

	// Grants
	mux.HandleFunc("POST /permissions/grants", h.GivePermission)
	mux.HandleFunc("DELETE /permissions/grants", h.RevokePermission)
	mux.HandleFunc("POST /permissions/defaults", h.GiveDefaultPermission)
	mux.HandleFunc("GET /permissions/defaults", h.ListDefaultPermissions)

	// Dataset storage
	mux.HandleFunc("POST /datasets/provision", h.ProvisionDataset)
	mux.HandleFunc("POST /datasets/authorize", h.AuthorizeDatasets)
	mux.HandleFunc("GET /datasets/{name_or_id}/grants", h.ListDatasetGrants)
	mux.HandleFunc("DELETE /datasets/{name_or_id}/storage", h.ReleaseDataset)
	mux.HandleFunc("DELETE /datasets/{name_or_id}", h.DeleteDataset)

	// Retention
	mux.HandleFunc("GET /retention/collections", h.RetentionCollections)
	mux.HandleFunc("GET /retention/unused", h.RetentionUnused)
	mux.HandleFunc("GET /retention/statistics", h.RetentionStatistics)
	mux.HandleFunc("POST /retention/sweep", h.RetentionSweep)
	mux.HandleFunc("POST /retention/touch", h.RetentionTouch)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnsupportedConfig):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrProvisioningTimeout):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, domain.Invalidf("invalid id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, domain.Invalidf("invalid JSON body"))
		return false
	}
	return true
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, domain.Invalidf("email is required"))
		return
	}
	user, err := h.Store.CreateUser(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SelectTenant handles PUT /users/{id}/tenant. A null tenant_id resets the
// user to the single-user context.
func (h *Handler) SelectTenant(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		TenantID *uuid.UUID `json:"tenant_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Engine.SelectTenant(r.Context(), userID, req.TenantID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserDatasets handles GET /users/{id}/datasets. It returns the IDs of
// every dataset the user holds the given permission on, directly or through
// roles; the permission defaults to read.
func (h *Handler) ListUserDatasets(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	perm := domain.Permission(r.URL.Query().Get("permission"))
	if perm == "" {
		perm = domain.PermRead
	}
	ids, err := h.Store.ListDatasetIDsWithPermission(r.Context(), userID, perm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// ListUserRoles handles GET /users/{id}/roles
func (h *Handler) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	ids, err := h.Store.ListUserRoleIDs(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// CreateTenant handles POST /tenants
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string    `json:"name"`
		OwnerID uuid.UUID `json:"owner_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	tenant, err := h.Engine.CreateTenant(r.Context(), req.Name, req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant)
}

// GetTenant handles GET /tenants/{id}
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	tenant, err := h.Store.GetTenant(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// ListTenantDatasets handles GET /tenants/{id}/datasets. Requester must own
// the tenant.
func (h *Handler) ListTenantDatasets(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	requesterID, ok := parseID(w, r.URL.Query().Get("requester_id"))
	if !ok {
		return
	}
	if err := h.Engine.HasManagementPermission(r.Context(), requesterID, tenantID); err != nil {
		writeError(w, err)
		return
	}
	datasets, err := h.Store.ListTenantDatasets(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, datasets)
}

// AddUserToTenant handles POST /tenants/{id}/users
func (h *Handler) AddUserToTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		UserID      uuid.UUID `json:"user_id"`
		RequesterID uuid.UUID `json:"requester_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Engine.AddUserToTenant(r.Context(), req.UserID, tenantID, req.RequesterID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveUserFromTenant handles DELETE /tenants/{id}/users/{user_id}
func (h *Handler) RemoveUserFromTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	userID, ok := parseID(w, r.PathValue("user_id"))
	if !ok {
		return
	}
	requesterID, ok := parseID(w, r.URL.Query().Get("requester_id"))
	if !ok {
		return
	}
	if err := h.Engine.RemoveUserFromTenant(r.Context(), userID, tenantID, requesterID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateRole handles POST /tenants/{id}/roles
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Name        string    `json:"name"`
		RequesterID uuid.UUID `json:"requester_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := h.Engine.CreateRole(r.Context(), req.Name, tenantID, req.RequesterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// AddUserToRole handles POST /roles/{id}/users
func (h *Handler) AddUserToRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		UserID      uuid.UUID `json:"user_id"`
		RequesterID uuid.UUID `json:"requester_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Engine.AddUserToRole(r.Context(), req.UserID, roleID, req.RequesterID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveUserFromRole handles DELETE /tenants/{id}/roles/{role_id}/users/{user_id}
func (h *Handler) RemoveUserFromRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	roleID, ok := parseID(w, r.PathValue("role_id"))
	if !ok {
		return
	}
	userID, ok := parseID(w, r.PathValue("user_id"))
	if !ok {
		return
	}
	requesterID, ok := parseID(w, r.URL.Query().Get("requester_id"))
	if !ok {
		return
	}
	if err := h.Engine.RemoveUserFromRole(r.Context(), tenantID, userID, roleID, requesterID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GivePermission handles POST /permissions/grants. The granter must hold
// share on every dataset in the list.
func (h *Handler) GivePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GranterID   uuid.UUID   `json:"granter_id"`
		PrincipalID uuid.UUID   `json:"principal_id"`
		DatasetIDs  []uuid.UUID `json:"dataset_ids"`
		Permission  string      `json:"permission"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.DatasetIDs) == 0 {
		writeError(w, domain.Invalidf("dataset_ids is required"))
		return
	}

	for _, datasetID := range req.DatasetIDs {
		if err := h.Engine.CheckPermission(r.Context(), req.GranterID, datasetID, domain.PermShare); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := h.Engine.GivePermission(r.Context(), req.PrincipalID, req.DatasetIDs, domain.Permission(req.Permission)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokePermission handles DELETE /permissions/grants. Like granting, the
// revoker must hold share on every dataset in the list.
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RevokerID   uuid.UUID   `json:"revoker_id"`
		PrincipalID uuid.UUID   `json:"principal_id"`
		DatasetIDs  []uuid.UUID `json:"dataset_ids"`
		Permission  string      `json:"permission"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.DatasetIDs) == 0 {
		writeError(w, domain.Invalidf("dataset_ids is required"))
		return
	}

	for _, datasetID := range req.DatasetIDs {
		if err := h.Engine.CheckPermission(r.Context(), req.RevokerID, datasetID, domain.PermShare); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := h.Engine.RevokePermission(r.Context(), req.PrincipalID, req.DatasetIDs, domain.Permission(req.Permission)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GiveDefaultPermission handles POST /permissions/defaults
func (h *Handler) GiveDefaultPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope      string    `json:"scope"`
		ScopeID    uuid.UUID `json:"scope_id"`
		Permission string    `json:"permission"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := h.Engine.GiveDefaultPermission(r.Context(),
		domain.DefaultPermissionScope(req.Scope), req.ScopeID, domain.Permission(req.Permission))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDefaultPermissions handles GET /permissions/defaults
func (h *Handler) ListDefaultPermissions(w http.ResponseWriter, r *http.Request) {
	scopeID, ok := parseID(w, r.URL.Query().Get("scope_id"))
	if !ok {
		return
	}
	scope := domain.DefaultPermissionScope(r.URL.Query().Get("scope"))
	perms, err := h.Store.ListDefaultPermissions(r.Context(), scope, scopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

// ProvisionDataset handles POST /datasets/provision
func (h *Handler) ProvisionDataset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dataset  string     `json:"dataset"`
		UserID   uuid.UUID  `json:"user_id"`
		TenantID *uuid.UUID `json:"tenant_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Dataset == "" {
		writeError(w, domain.Invalidf("dataset is required"))
		return
	}
	owner := domain.Owner{UserID: req.UserID, TenantID: req.TenantID}
	rec, err := h.Provisioner.GetOrCreate(r.Context(), req.Dataset, owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AuthorizeDatasets handles POST /datasets/authorize
func (h *Handler) AuthorizeDatasets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     uuid.UUID  `json:"user_id"`
		TenantID   *uuid.UUID `json:"tenant_id"`
		Datasets   []string   `json:"datasets"`
		Permission string     `json:"permission"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	owner := domain.Owner{UserID: req.UserID, TenantID: req.TenantID}
	datasets, err := h.Engine.AuthorizeDatasets(r.Context(), owner, req.Datasets, domain.Permission(req.Permission))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, datasets)
}

// ownerFromQuery reads the caller identity from user_id and tenant_id query
// parameters.
func ownerFromQuery(w http.ResponseWriter, r *http.Request) (domain.Owner, bool) {
	userID, ok := parseID(w, r.URL.Query().Get("user_id"))
	if !ok {
		return domain.Owner{}, false
	}
	owner := domain.Owner{UserID: userID}
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		tenantID, ok := parseID(w, raw)
		if !ok {
			return domain.Owner{}, false
		}
		owner.TenantID = &tenantID
	}
	return owner, true
}

// ListDatasetGrants handles GET /datasets/{name_or_id}/grants. The caller
// must hold share on the dataset to inspect who else does.
func (h *Handler) ListDatasetGrants(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromQuery(w, r)
	if !ok {
		return
	}
	datasets, err := h.Engine.AuthorizeDatasets(r.Context(), owner, []string{r.PathValue("name_or_id")}, domain.PermShare)
	if err != nil {
		writeError(w, err)
		return
	}
	acls, err := h.Store.ListDatasetACLs(r.Context(), datasets[0].ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acls)
}

// ReleaseDataset handles DELETE /datasets/{name_or_id}/storage. The caller
// must hold delete permission on the dataset.
func (h *Handler) ReleaseDataset(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromQuery(w, r)
	if !ok {
		return
	}
	datasets, err := h.Engine.AuthorizeDatasets(r.Context(), owner, []string{r.PathValue("name_or_id")}, domain.PermDelete)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.Provisioner.Release(r.Context(), datasets[0].ID.String(), owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDataset handles DELETE /datasets/{name_or_id}. It tears down the
// caller's provisioned storage, then drops the dataset row; ACLs, data items
// and remaining storage records cascade with it. Requires delete permission.
func (h *Handler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromQuery(w, r)
	if !ok {
		return
	}
	datasets, err := h.Engine.AuthorizeDatasets(r.Context(), owner, []string{r.PathValue("name_or_id")}, domain.PermDelete)
	if err != nil {
		writeError(w, err)
		return
	}
	// A dataset the caller never provisioned storage for has no record to
	// release; that is not an error here.
	if err := h.Provisioner.Release(r.Context(), datasets[0].ID.String(), owner); err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(w, err)
		return
	}
	if err := h.Store.DeleteDataset(r.Context(), datasets[0].ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetentionCollections handles GET /retention/collections
func (h *Handler) RetentionCollections(w http.ResponseWriter, r *http.Request) {
	handles, err := h.Retention.TrackedCollections(r.Context(), r.URL.Query().Get("schema"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handles)
}

// RetentionUnused handles GET /retention/unused
func (h *Handler) RetentionUnused(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("threshold_days"))
	if err != nil {
		writeError(w, domain.Invalidf("threshold_days is required"))
		return
	}
	counts, err := h.Retention.UnusedCounts(r.Context(), days, r.URL.Query().Get("schema"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// RetentionStatistics handles GET /retention/statistics
func (h *Handler) RetentionStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Retention.Statistics(r.Context(), r.URL.Query().Get("schema"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RetentionSweep handles POST /retention/sweep
func (h *Handler) RetentionSweep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThresholdDays int    `json:"threshold_days"`
		Schema        string `json:"schema"`
		DryRun        bool   `json:"dry_run"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	deleted, err := h.Retention.DeleteUnused(r.Context(), req.ThresholdDays, req.Schema, req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}

// RetentionTouch handles POST /retention/touch. Ingestion and retrieval
// tasks call this after successfully touching entities.
func (h *Handler) RetentionTouch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Schema  string                 `json:"schema"`
		Updates map[string][]uuid.UUID `json:"updates"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Retention.BulkUpdateLastAccessed(r.Context(), req.Schema, req.Updates); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
