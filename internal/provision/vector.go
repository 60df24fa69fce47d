package provision

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/domain"
)

// Supported vector providers.
const (
	VectorLanceDB  = "lancedb"
	VectorQdrant   = "qdrant"
	VectorPGVector = "pgvector"
)

// vectorPlan is the computed vector-store coordinates for one dataset.
type vectorPlan struct {
	Name     string
	URL      string
	Provider string
	Key      string
}

// planVector computes where the dataset's vector store lives. File-backed
// providers get a per-dataset path under a per-user directory; server-backed
// providers share the configured endpoint and isolate datasets by logical
// database name. The logical name is always the dataset ID so hybrid
// graph+vector providers agree on it.
func planVector(cfg config.VectorConfig, owner domain.Owner, datasetID uuid.UUID) (vectorPlan, error) {
	name := datasetID.String()
	switch cfg.Provider {
	case VectorLanceDB:
		return vectorPlan{
			Name:     name,
			URL:      filepath.Join(cfg.DataDir, owner.UserID.String(), name+".lance"),
			Provider: cfg.Provider,
		}, nil
	case VectorQdrant:
		if cfg.URL == "" {
			return vectorPlan{}, domain.Unsupportedf("vector provider %s requires a url", cfg.Provider)
		}
		return vectorPlan{
			Name:     name,
			URL:      cfg.URL,
			Provider: cfg.Provider,
			Key:      cfg.APIKey,
		}, nil
	case VectorPGVector:
		if cfg.URL == "" {
			return vectorPlan{}, domain.Unsupportedf("vector provider %s requires a url", cfg.Provider)
		}
		return vectorPlan{
			Name:     name,
			URL:      cfg.URL,
			Provider: cfg.Provider,
		}, nil
	default:
		return vectorPlan{}, domain.Unsupportedf("vector provider %q", cfg.Provider)
	}
}
