package provision

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/domain"
)

// Supported graph providers.
const (
	GraphKuzu      = "kuzu"
	GraphNeo4j     = "neo4j"
	GraphNeo4jAura = "neo4j-aura"
	GraphFalkorDB  = "falkordb"
)

// The managed provider only serves one database per instance, always named
// "neo4j".
const managedDatabaseName = "neo4j"

// graphPlan is the computed graph-store coordinates for one dataset.
type graphPlan struct {
	Name     string
	URL      string
	Provider string
	Key      string
	Username string
	Password string
}

// managedProvisioner is the slice of ManagedClient the planner needs.
type managedProvisioner interface {
	Provision(ctx context.Context, datasetID uuid.UUID) (*ManagedInstance, error)
	Release(ctx context.Context, instanceID string) error
}

// planGraph computes where the dataset's graph store lives. The managed
// provider path is asynchronous: it creates a remote instance and blocks
// until the instance reports running, so first-time callers see multi-second
// latency.
func planGraph(ctx context.Context, cfg config.GraphConfig, managed managedProvisioner, owner domain.Owner, datasetID uuid.UUID) (graphPlan, error) {
	name := datasetID.String()
	switch cfg.Provider {
	case GraphKuzu:
		return graphPlan{
			Name:     name,
			URL:      filepath.Join(cfg.DataDir, owner.UserID.String(), name+".kuzu"),
			Provider: cfg.Provider,
		}, nil
	case GraphNeo4j, GraphFalkorDB:
		if cfg.URL == "" {
			return graphPlan{}, domain.Unsupportedf("graph provider %s requires a url", cfg.Provider)
		}
		return graphPlan{
			Name:     name,
			URL:      cfg.URL,
			Provider: cfg.Provider,
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case GraphNeo4jAura:
		if managed == nil {
			return graphPlan{}, domain.Unsupportedf("graph provider %s requires control api credentials", cfg.Provider)
		}
		inst, err := managed.Provision(ctx, datasetID)
		if err != nil {
			return graphPlan{}, err
		}
		return graphPlan{
			Name:     managedDatabaseName,
			URL:      inst.ConnectionURL,
			Provider: cfg.Provider,
			Username: inst.Username,
			Password: inst.Password,
		}, nil
	default:
		return graphPlan{}, domain.Unsupportedf("graph provider %q", cfg.Provider)
	}
}

// instanceIDFromURL recovers the managed instance ID from its connection
// URL; the instance ID is the first host label (neo4j+s://<id>.host...).
func instanceIDFromURL(connectionURL string) string {
	rest := connectionURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "./:"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
