// Package store defines the flat record storage that nested values are
// decomposed onto, together with its backend implementations.
package store

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when a record handle refers to a record that no
	// longer exists in its table.
	ErrNotFound = errors.New("objectbox: record not found")

	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("objectbox: unknown store backend")
)

// Backend is the interface that all backing stores must implement.
// It operates on named collections, where each collection contains
// flat documents keyed by a string identifier. A document value is a
// scalar (nil, bool, float64, string) or a []any of scalars.
type Backend interface {
	// GetAll returns every document in a collection as a map of key -> document.
	GetAll(ctx context.Context, collection string) (map[string]map[string]any, error)

	// Get returns a single document by key, or nil if not found.
	Get(ctx context.Context, collection, key string) (map[string]any, error)

	// Put inserts or replaces a document.
	Put(ctx context.Context, collection, key string, doc map[string]any) error

	// Delete removes a document. Returns true if it existed.
	Delete(ctx context.Context, collection, key string) (bool, error)

	// ListCollections returns the names of all collections that contain data.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases the backend's resources.
	Close() error
}

// normalize returns a deep copy of a document by round-tripping through JSON,
// so that every backend hands back numbers as float64 and lists as []any.
func normalize(src map[string]any) (map[string]any, error) {
	if src == nil {
		return nil, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, errors.Wrap(err, "normalize document")
	}
	var dst map[string]any
	if err := json.Unmarshal(b, &dst); err != nil {
		return nil, errors.Wrap(err, "normalize document")
	}
	return dst, nil
}
