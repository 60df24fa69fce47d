package domain

import (
	"time"

	"github.com/google/uuid"
)

// Dataset is the unit of isolated knowledge storage. Its ID is derived
// deterministically from (name, owner, tenant) so create-if-absent calls are
// idempotent per owner.
type Dataset struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	TenantID     *uuid.UUID `json:"tenant_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
}

// DatasetDatabase records the physical coordinates of the isolated storage
// pair provisioned for one dataset. Unique on (owner_id, dataset_id);
// created at most once.
type DatasetDatabase struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	DatasetID uuid.UUID `json:"dataset_id"`

	VectorDatabaseName     string `json:"vector_database_name"`
	VectorDatabaseURL      string `json:"vector_database_url"`
	VectorDatabaseProvider string `json:"vector_database_provider"`
	VectorDatabaseKey      string `json:"vector_database_key,omitempty"`

	GraphDatabaseName     string `json:"graph_database_name"`
	GraphDatabaseURL      string `json:"graph_database_url"`
	GraphDatabaseProvider string `json:"graph_database_provider"`
	GraphDatabaseKey      string `json:"graph_database_key,omitempty"`
	GraphDatabaseUsername string `json:"graph_database_username,omitempty"`
	GraphDatabasePassword string `json:"graph_database_password,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
