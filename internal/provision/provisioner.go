// Package provision allocates the isolated storage pair (one vector store,
// one graph store) behind each dataset and records its coordinates. Repeat
// calls are idempotent; concurrent first-use is resolved through the unique
// constraint on (owner, dataset), not locks.
package provision

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/cache"
	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/domain"
	"github.com/lorekeep/lorekeep/internal/logging"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/observability"
)

// Store is the relational surface the provisioner drives. *store.PostgresStore
// satisfies it.
type Store interface {
	CreateDatasetIfAbsent(ctx context.Context, id uuid.UUID, name string, owner domain.Owner) (*domain.Dataset, error)
	GetDataset(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
	DatasetExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetDatasetDatabase(ctx context.Context, ownerID, datasetID uuid.UUID) (*domain.DatasetDatabase, error)
	InsertDatasetDatabase(ctx context.Context, rec *domain.DatasetDatabase) (*domain.DatasetDatabase, error)
	DeleteDatasetDatabase(ctx context.Context, ownerID, datasetID uuid.UUID) error
	GrantPermission(ctx context.Context, principalID, datasetID uuid.UUID, name domain.Permission) error
}

// Resolver maps dataset names or ID strings to canonical dataset IDs.
type Resolver interface {
	Resolve(ctx context.Context, nameOrID string, owner domain.Owner) (uuid.UUID, error)
}

// Access answers permission checks against the ACL graph.
// *accesscontrol.Engine satisfies it.
type Access interface {
	CheckPermission(ctx context.Context, userID, datasetID uuid.UUID, name domain.Permission) error
}

// Provisioner implements getOrCreate over the configured providers.
type Provisioner struct {
	store    Store
	resolver Resolver
	access   Access
	managed  managedProvisioner
	cipher   *Cipher
	records  *cache.RecordCache

	vectorCfg config.VectorConfig
	graphCfg  config.GraphConfig
}

// Option adjusts a Provisioner.
type Option func(*Provisioner)

// WithManagedClient sets the managed control-plane client used by the
// neo4j-aura provider.
func WithManagedClient(m managedProvisioner) Option {
	return func(p *Provisioner) { p.managed = m }
}

// WithCipher sets the credential cipher for stored graph passwords.
func WithCipher(c *Cipher) Option {
	return func(p *Provisioner) { p.cipher = c }
}

// WithRecordCache sets the metadata cache consulted before the relational
// store on the hot path.
func WithRecordCache(rc *cache.RecordCache) Option {
	return func(p *Provisioner) { p.records = rc }
}

// NewProvisioner builds a Provisioner for the configured providers.
func NewProvisioner(store Store, resolver Resolver, access Access, vectorCfg config.VectorConfig, graphCfg config.GraphConfig, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:     store,
		resolver:  resolver,
		access:    access,
		vectorCfg: vectorCfg,
		graphCfg:  graphCfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreate resolves the dataset and returns its storage coordinates,
// provisioning them first if this is the dataset's first use. Creating a
// dataset by name grants the creator the default permissions; any reference
// to an existing dataset requires write permission on it, so holding a
// dataset's ID alone never provisions storage. Looking up an
// already-provisioned dataset has no other side effects. For the managed
// graph provider, first use blocks until the remote instance is running.
func (p *Provisioner) GetOrCreate(ctx context.Context, nameOrID string, owner domain.Owner) (*domain.DatasetDatabase, error) {
	ctx, span := observability.StartSpan(ctx, "dataset.get_or_create",
		observability.AttrUserID.String(owner.UserID.String()),
		observability.AttrDatasetName.String(nameOrID))
	defer span.End()
	if owner.TenantID != nil {
		span.SetAttributes(observability.AttrTenantID.String(owner.TenantID.String()))
	}

	datasetID, err := p.resolver.Resolve(ctx, nameOrID, owner)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}

	if _, parseErr := uuid.Parse(nameOrID); parseErr != nil {
		exists, err := p.store.DatasetExists(ctx, datasetID)
		if err != nil {
			observability.SetSpanError(span, err)
			return nil, err
		}
		if exists {
			if err := p.access.CheckPermission(ctx, owner.UserID, datasetID, domain.PermWrite); err != nil {
				observability.SetSpanError(span, err)
				return nil, err
			}
		} else {
			// First use by name: create the dataset row and hand the
			// creator the default grants. Both writes are idempotent, so a
			// concurrent first-use race settles on the same rows.
			if _, err := p.store.CreateDatasetIfAbsent(ctx, datasetID, nameOrID, owner); err != nil {
				observability.SetSpanError(span, err)
				return nil, err
			}
			for _, perm := range domain.DefaultDatasetPermissions {
				if err := p.store.GrantPermission(ctx, owner.UserID, datasetID, perm); err != nil {
					observability.SetSpanError(span, err)
					return nil, err
				}
			}
		}
	} else {
		if _, err := p.store.GetDataset(ctx, datasetID); err != nil {
			observability.SetSpanError(span, err)
			return nil, err
		}
		if err := p.access.CheckPermission(ctx, owner.UserID, datasetID, domain.PermWrite); err != nil {
			observability.SetSpanError(span, err)
			return nil, err
		}
	}

	if rec, ok := p.records.Get(ctx, owner.UserID, datasetID); ok {
		metrics.RecordCacheHit()
		observability.SetSpanOK(span)
		return rec, nil
	}
	metrics.RecordCacheMiss()

	rec, err := p.store.GetDatasetDatabase(ctx, owner.UserID, datasetID)
	if err == nil {
		p.records.Put(ctx, rec)
		observability.SetSpanOK(span)
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		observability.SetSpanError(span, err)
		return nil, err
	}

	out, err := p.provision(ctx, owner, datasetID)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	observability.SetSpanOK(span)
	return out, nil
}

func (p *Provisioner) provision(ctx context.Context, owner domain.Owner, datasetID uuid.UUID) (*domain.DatasetDatabase, error) {
	ctx, span := observability.StartSpan(ctx, "dataset.provision",
		observability.AttrDatasetID.String(datasetID.String()),
		observability.AttrVectorProvider.String(p.vectorCfg.Provider),
		observability.AttrGraphProvider.String(p.graphCfg.Provider))
	defer span.End()

	start := time.Now()

	vp, err := planVector(p.vectorCfg, owner, datasetID)
	if err != nil {
		metrics.RecordProvision(p.graphCfg.Provider, time.Since(start), false)
		observability.SetSpanError(span, err)
		return nil, err
	}
	gp, err := planGraph(ctx, p.graphCfg, p.managed, owner, datasetID)
	if err != nil {
		metrics.RecordProvision(p.graphCfg.Provider, time.Since(start), false)
		observability.SetSpanError(span, err)
		return nil, err
	}

	password, err := p.cipher.Encrypt(gp.Password)
	if err != nil {
		metrics.RecordProvision(p.graphCfg.Provider, time.Since(start), false)
		observability.SetSpanError(span, err)
		return nil, err
	}

	rec := &domain.DatasetDatabase{
		OwnerID:   owner.UserID,
		DatasetID: datasetID,

		VectorDatabaseName:     vp.Name,
		VectorDatabaseURL:      vp.URL,
		VectorDatabaseProvider: vp.Provider,
		VectorDatabaseKey:      vp.Key,

		GraphDatabaseName:     gp.Name,
		GraphDatabaseURL:      gp.URL,
		GraphDatabaseProvider: gp.Provider,
		GraphDatabaseKey:      gp.Key,
		GraphDatabaseUsername: gp.Username,
		GraphDatabasePassword: password,
	}

	// A concurrent caller may have won the insert race; either way the
	// returned row is the authoritative one.
	out, err := p.store.InsertDatasetDatabase(ctx, rec)
	if err != nil {
		metrics.RecordProvision(p.graphCfg.Provider, time.Since(start), false)
		observability.SetSpanError(span, err)
		return nil, err
	}
	metrics.RecordProvision(p.graphCfg.Provider, time.Since(start), true)
	observability.SetSpanOK(span)
	logging.Op().Info("dataset storage provisioned",
		"dataset_id", datasetID,
		"owner_id", owner.UserID,
		"vector_provider", out.VectorDatabaseProvider,
		"graph_provider", out.GraphDatabaseProvider)

	p.records.Put(ctx, out)
	return out, nil
}

// Release tears down the dataset's provisioned storage: for the managed
// graph provider it deletes the remote instance, then it removes the
// storage-location record and drops the cached copy. The dataset row itself
// is left to the access-control surface.
func (p *Provisioner) Release(ctx context.Context, nameOrID string, owner domain.Owner) error {
	datasetID, err := p.resolver.Resolve(ctx, nameOrID, owner)
	if err != nil {
		return err
	}
	rec, err := p.store.GetDatasetDatabase(ctx, owner.UserID, datasetID)
	if err != nil {
		return err
	}

	if rec.GraphDatabaseProvider == GraphNeo4jAura && p.managed != nil {
		instanceID := instanceIDFromURL(rec.GraphDatabaseURL)
		if instanceID != "" {
			if err := p.managed.Release(ctx, instanceID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
	}

	// File-backed stores are removed best-effort; the record delete below is
	// what makes the release authoritative.
	if rec.VectorDatabaseProvider == VectorLanceDB && rec.VectorDatabaseURL != "" {
		if err := os.RemoveAll(rec.VectorDatabaseURL); err != nil {
			logging.Op().Warn("remove vector store files failed", "path", rec.VectorDatabaseURL, "error", err)
		}
	}
	if rec.GraphDatabaseProvider == GraphKuzu && rec.GraphDatabaseURL != "" {
		if err := os.RemoveAll(rec.GraphDatabaseURL); err != nil {
			logging.Op().Warn("remove graph store files failed", "path", rec.GraphDatabaseURL, "error", err)
		}
	}

	if err := p.store.DeleteDatasetDatabase(ctx, owner.UserID, datasetID); err != nil {
		return err
	}
	p.records.Invalidate(ctx, owner.UserID, datasetID)
	logging.Op().Info("dataset storage released", "dataset_id", datasetID, "owner_id", owner.UserID)
	return nil
}

// DecryptGraphPassword recovers the stored graph credential for callers
// that open data-plane connections.
func (p *Provisioner) DecryptGraphPassword(rec *domain.DatasetDatabase) (string, error) {
	return p.cipher.Decrypt(rec.GraphDatabasePassword)
}
