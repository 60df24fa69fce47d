// Package retention finds and removes entities nobody has touched in N
// days. Collections opt in through an explicit registry; the registry is
// cross-checked against live schema metadata at sweep time, so a registered
// collection whose last_accessed column has been dropped is skipped instead
// of breaking the sweep.
package retention

import (
	"sort"
	"sync"
)

// DefaultSchema is the schema swept when none is named.
const DefaultSchema = "public"

// CollectionHandle names one tracked table.
type CollectionHandle struct {
	Schema string
	Name   string
}

// String returns the schema-qualified collection name. Result maps are keyed
// by it, so same-named collections in different schemas stay distinct.
func (h CollectionHandle) String() string {
	return h.Schema + "." + h.Name
}

// Registry is the set of collections eligible for retention tracking.
// Safe for concurrent use; registration normally happens at startup but
// tenant-custom schemas may register later.
type Registry struct {
	mu          sync.RWMutex
	collections map[CollectionHandle]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[CollectionHandle]struct{})}
}

// DefaultRegistry returns a registry preloaded with the built-in tracked
// collections.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(DefaultSchema, "datasets")
	r.Register(DefaultSchema, "data_items")
	return r
}

// Register marks a collection as retention-tracked. Empty schema means the
// default schema.
func (r *Registry) Register(schema, name string) {
	if schema == "" {
		schema = DefaultSchema
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[CollectionHandle{Schema: schema, Name: name}] = struct{}{}
}

// Contains reports whether the collection is registered.
func (r *Registry) Contains(schema, name string) bool {
	if schema == "" {
		schema = DefaultSchema
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.collections[CollectionHandle{Schema: schema, Name: name}]
	return ok
}

// List returns the registered collections, optionally filtered to one
// schema, in a stable order.
func (r *Registry) List(schema string) []CollectionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CollectionHandle, 0, len(r.collections))
	for h := range r.collections {
		if schema != "" && h.Schema != schema {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		return out[i].Name < out[j].Name
	})
	return out
}
