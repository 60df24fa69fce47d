// Package cache provides the metadata cache in front of the relational
// store. The hot path it serves is the dataset-database record lookup in
// getOrCreate; records change rarely, so short TTLs keep staleness bounded.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache abstracts a key-value cache with TTL support.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the implementation.
	Close() error
}
