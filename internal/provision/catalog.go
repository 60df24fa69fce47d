package provision

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lorekeep/lorekeep/internal/domain"
)

// InstanceProfile fixes the shape of a managed graph instance. The managed
// control plane receives these fields verbatim on instance creation.
type InstanceProfile struct {
	Version       string `yaml:"version"`
	Region        string `yaml:"region"`
	Memory        string `yaml:"memory"`
	Type          string `yaml:"type"`
	CloudProvider string `yaml:"cloud_provider"`
}

// Catalog maps profile names to managed instance profiles, loaded from a
// YAML file so operators can retarget regions or sizes without a rebuild.
type Catalog struct {
	Profiles map[string]InstanceProfile `yaml:"profiles"`
}

// DefaultProfileName is consulted when no profile is named explicitly.
const DefaultProfileName = "default"

// DefaultCatalog returns the built-in catalog used when no catalog file is
// configured.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Profiles: map[string]InstanceProfile{
			DefaultProfileName: {
				Version:       "5",
				Region:        "europe-west1",
				Memory:        "1GB",
				Type:          "professional-db",
				CloudProvider: "gcp",
			},
		},
	}
}

// LoadCatalog reads a profile catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instance catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse instance catalog: %w", err)
	}
	if len(c.Profiles) == 0 {
		return nil, domain.Invalidf("instance catalog %s defines no profiles", path)
	}
	return &c, nil
}

// Profile returns the named profile, falling back to the default when name
// is empty.
func (c *Catalog) Profile(name string) (InstanceProfile, error) {
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := c.Profiles[name]
	if !ok {
		return InstanceProfile{}, domain.NotFoundf("instance profile %q", name)
	}
	return p, nil
}
