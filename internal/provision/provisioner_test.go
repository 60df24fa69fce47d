package provision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/domain"
)

type provStore struct {
	datasets map[uuid.UUID]*domain.Dataset
	records  map[string]*domain.DatasetDatabase
	grants   map[string]bool

	insertCalls int
	grantCalls  int
	// preexisting simulates a concurrent winner: the insert hits the unique
	// constraint and the stored row is returned instead.
	preexisting *domain.DatasetDatabase
}

func newProvStore() *provStore {
	return &provStore{
		datasets: make(map[uuid.UUID]*domain.Dataset),
		records:  make(map[string]*domain.DatasetDatabase),
		grants:   make(map[string]bool),
	}
}

func recKey(ownerID, datasetID uuid.UUID) string {
	return ownerID.String() + "|" + datasetID.String()
}

func (s *provStore) CreateDatasetIfAbsent(_ context.Context, id uuid.UUID, name string, owner domain.Owner) (*domain.Dataset, error) {
	if ds, ok := s.datasets[id]; ok {
		return ds, nil
	}
	ds := &domain.Dataset{ID: id, Name: name, OwnerID: owner.UserID, TenantID: owner.TenantID}
	s.datasets[id] = ds
	return ds, nil
}

func (s *provStore) GetDataset(_ context.Context, id uuid.UUID) (*domain.Dataset, error) {
	ds, ok := s.datasets[id]
	if !ok {
		return nil, domain.NotFoundf("dataset %s", id)
	}
	return ds, nil
}

func (s *provStore) DatasetExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := s.datasets[id]
	return ok, nil
}

func (s *provStore) GetDatasetDatabase(_ context.Context, ownerID, datasetID uuid.UUID) (*domain.DatasetDatabase, error) {
	rec, ok := s.records[recKey(ownerID, datasetID)]
	if !ok {
		return nil, domain.NotFoundf("dataset database for dataset %s", datasetID)
	}
	return rec, nil
}

func (s *provStore) InsertDatasetDatabase(_ context.Context, rec *domain.DatasetDatabase) (*domain.DatasetDatabase, error) {
	s.insertCalls++
	key := recKey(rec.OwnerID, rec.DatasetID)
	if s.preexisting != nil {
		s.records[key] = s.preexisting
		return s.preexisting, nil
	}
	if existing, ok := s.records[key]; ok {
		return existing, nil
	}
	rec.ID = uuid.New()
	s.records[key] = rec
	return rec, nil
}

func (s *provStore) DeleteDatasetDatabase(_ context.Context, ownerID, datasetID uuid.UUID) error {
	key := recKey(ownerID, datasetID)
	if _, ok := s.records[key]; !ok {
		return domain.NotFoundf("dataset database for dataset %s", datasetID)
	}
	delete(s.records, key)
	return nil
}

func (s *provStore) GrantPermission(_ context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error {
	s.grantCalls++
	s.grants[fmt.Sprintf("%s|%s|%s", principalID, datasetID, name)] = true
	return nil
}

// grantAccess answers permission checks from the store's grant map, the way
// the real engine consults ACL rows.
type grantAccess struct {
	s *provStore
}

func (a grantAccess) CheckPermission(_ context.Context, userID, datasetID uuid.UUID, name domain.Permission) error {
	if a.s.grants[fmt.Sprintf("%s|%s|%s", userID, datasetID, name)] {
		return nil
	}
	return domain.Deniedf("user %s lacks %s on dataset %s", userID, name, datasetID)
}

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, nameOrID string, owner domain.Owner) (uuid.UUID, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		return id, nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(nameOrID+owner.UserID.String())), nil
}

type stubManaged struct {
	provisioned []uuid.UUID
	released    []string
	inst        *ManagedInstance
	err         error
}

func (m *stubManaged) Provision(_ context.Context, datasetID uuid.UUID) (*ManagedInstance, error) {
	m.provisioned = append(m.provisioned, datasetID)
	if m.err != nil {
		return nil, m.err
	}
	return m.inst, nil
}

func (m *stubManaged) Release(_ context.Context, instanceID string) error {
	m.released = append(m.released, instanceID)
	return nil
}

func fileConfigs() (config.VectorConfig, config.GraphConfig) {
	return config.VectorConfig{Provider: VectorLanceDB, DataDir: "/data/vector"},
		config.GraphConfig{Provider: GraphKuzu, DataDir: "/data/graph"}
}

func TestGetOrCreate_FileBackedProviders(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	vcfg, gcfg := fileConfigs()
	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs}, vcfg, gcfg)

	owner := domain.Owner{UserID: uuid.New()}
	rec, err := p.GetOrCreate(ctx, "notes", owner)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	datasetID := rec.DatasetID
	wantVector := filepath.Join("/data/vector", owner.UserID.String(), datasetID.String()+".lance")
	if rec.VectorDatabaseURL != wantVector {
		t.Fatalf("vector url = %q, want %q", rec.VectorDatabaseURL, wantVector)
	}
	wantGraph := filepath.Join("/data/graph", owner.UserID.String(), datasetID.String()+".kuzu")
	if rec.GraphDatabaseURL != wantGraph {
		t.Fatalf("graph url = %q, want %q", rec.GraphDatabaseURL, wantGraph)
	}
	// Logical database names agree on both sides.
	if rec.VectorDatabaseName != rec.GraphDatabaseName {
		t.Fatalf("names differ: %q vs %q", rec.VectorDatabaseName, rec.GraphDatabaseName)
	}

	// Owner holds the default grants.
	for _, perm := range domain.DefaultDatasetPermissions {
		if !fs.grants[fmt.Sprintf("%s|%s|%s", owner.UserID, datasetID, perm)] {
			t.Fatalf("missing owner grant %s", perm)
		}
	}

	// Second call is a pure read: no new insert and no re-granting.
	grantCallsAfterCreate := fs.grantCalls
	again, err := p.GetOrCreate(ctx, "notes", owner)
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if again.ID != rec.ID {
		t.Fatalf("record changed across calls: %s vs %s", again.ID, rec.ID)
	}
	if fs.insertCalls != 1 {
		t.Fatalf("insert calls = %d, want 1", fs.insertCalls)
	}
	if fs.grantCalls != grantCallsAfterCreate {
		t.Fatalf("grant calls = %d, want %d", fs.grantCalls, grantCallsAfterCreate)
	}
}

func TestGetOrCreate_UnknownDatasetID(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	vcfg, gcfg := fileConfigs()
	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs}, vcfg, gcfg)

	_, err := p.GetOrCreate(ctx, uuid.New().String(), domain.Owner{UserID: uuid.New()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown id, got %v", err)
	}
}

// A dataset ID alone must not provision storage: the caller needs write
// permission on the dataset, granted or inherited, before the storage pair
// is created or returned.
func TestGetOrCreate_ByIDRequiresWrite(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	vcfg, gcfg := fileConfigs()
	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs}, vcfg, gcfg)

	owner := domain.Owner{UserID: uuid.New()}
	rec, err := p.GetOrCreate(ctx, "notes", owner)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	stranger := domain.Owner{UserID: uuid.New()}
	_, err = p.GetOrCreate(ctx, rec.DatasetID.String(), stranger)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied for ungranted caller, got %v", err)
	}
	if fs.insertCalls != 1 {
		t.Fatalf("insert calls = %d, want 1", fs.insertCalls)
	}
	if _, ok := fs.records[recKey(stranger.UserID, rec.DatasetID)]; ok {
		t.Fatal("denied caller must not get a storage record")
	}

	// With write granted, the same reference provisions the caller's pair.
	if err := fs.GrantPermission(ctx, stranger.UserID, rec.DatasetID, domain.PermWrite); err != nil {
		t.Fatalf("grant: %v", err)
	}
	shared, err := p.GetOrCreate(ctx, rec.DatasetID.String(), stranger)
	if err != nil {
		t.Fatalf("get or create after grant: %v", err)
	}
	if shared.OwnerID != stranger.UserID {
		t.Fatalf("record owner = %s, want %s", shared.OwnerID, stranger.UserID)
	}
}

// Referring to an existing dataset by name goes through the same write gate
// as referring to it by ID.
func TestGetOrCreate_ExistingByNameRequiresWrite(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	vcfg, gcfg := fileConfigs()
	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs}, vcfg, gcfg)

	owner := domain.Owner{UserID: uuid.New()}
	if _, err := p.GetOrCreate(ctx, "notes", owner); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	// staticResolver derives the same ID for the same (name, owner), so the
	// owner with revoked write loses access to their own dataset by name.
	datasetID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("notes"+owner.UserID.String()))
	delete(fs.grants, fmt.Sprintf("%s|%s|%s", owner.UserID, datasetID, domain.PermWrite))

	_, err := p.GetOrCreate(ctx, "notes", owner)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("want ErrPermissionDenied after revocation, got %v", err)
	}
}

func TestGetOrCreate_UnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs},
		config.VectorConfig{Provider: "chroma"},
		config.GraphConfig{Provider: GraphKuzu, DataDir: "/data/graph"})

	_, err := p.GetOrCreate(ctx, "notes", domain.Owner{UserID: uuid.New()})
	if !errors.Is(err, domain.ErrUnsupportedConfig) {
		t.Fatalf("want ErrUnsupportedConfig, got %v", err)
	}
}

func TestGetOrCreate_ConcurrentWinnerWins(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	winner := &domain.DatasetDatabase{ID: uuid.New(), VectorDatabaseProvider: VectorLanceDB}
	fs.preexisting = winner

	vcfg, gcfg := fileConfigs()
	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs}, vcfg, gcfg)

	rec, err := p.GetOrCreate(ctx, "notes", domain.Owner{UserID: uuid.New()})
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if rec.ID != winner.ID {
		t.Fatalf("loser must observe winner's row, got %s", rec.ID)
	}
}

func TestGetOrCreate_ManagedGraph(t *testing.T) {
	ctx := context.Background()
	fs := newProvStore()
	managed := &stubManaged{inst: &ManagedInstance{
		ID:            "inst-1",
		Status:        "running",
		ConnectionURL: "neo4j+s://inst-1.databases.example.com",
		Username:      "neo4j",
		Password:      "s3cret",
	}}
	key := make([]byte, 32)
	cipher, err := NewCipher(encodeKey(key))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	p := NewProvisioner(fs, staticResolver{}, grantAccess{fs},
		config.VectorConfig{Provider: VectorLanceDB, DataDir: "/data/vector"},
		config.GraphConfig{Provider: GraphNeo4jAura},
		WithManagedClient(managed), WithCipher(cipher))

	owner := domain.Owner{UserID: uuid.New()}
	rec, err := p.GetOrCreate(ctx, "notes", owner)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if len(managed.provisioned) != 1 {
		t.Fatalf("managed provisions = %d", len(managed.provisioned))
	}
	// The managed provider serves exactly one database per instance.
	if rec.GraphDatabaseName != managedDatabaseName {
		t.Fatalf("graph name = %q", rec.GraphDatabaseName)
	}
	// Password is stored encrypted but recoverable.
	if rec.GraphDatabasePassword == "s3cret" {
		t.Fatal("password stored in the clear")
	}
	plain, err := p.DecryptGraphPassword(rec)
	if err != nil || plain != "s3cret" {
		t.Fatalf("decrypt: %q %v", plain, err)
	}

	// Release tears down the managed instance recovered from the URL.
	if err := p.Release(ctx, "notes", owner); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(managed.released) != 1 || managed.released[0] != "inst-1" {
		t.Fatalf("released = %v", managed.released)
	}
	if _, err := fs.GetDatasetDatabase(ctx, owner.UserID, rec.DatasetID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record must be gone, got %v", err)
	}
}

func TestInstanceIDFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"neo4j+s://abcd1234.databases.example.com", "abcd1234"},
		{"bolt://host:7687", "host"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := instanceIDFromURL(tt.in); got != tt.want {
			t.Errorf("instanceIDFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
