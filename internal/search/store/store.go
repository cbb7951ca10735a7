// Package store persists search job entries and their lookup indexes.
//
// Every backend maintains three ways to reach an entry: by request id, by
// provider job id, and by normalized query (which always points at the
// freshest entry for that query). Backends are selected at construction
// time: the in-memory map for tests and single-instance deployments, the
// PostgreSQL table or Redis keyspace for deployments that must survive a
// restart.
//
// Stores only guard their own internal consistency. Serializing the
// check-then-create admission sequence is the cache's job.
package store

import (
	"context"
	"time"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/domain"
)

// Store is the persistence contract for search job entries.
type Store interface {
	// Put inserts or replaces an entry (same request id = replace), keeping
	// the job id and query indexes in step. It fails with domain.ErrConflict
	// when an insert would create a second in-flight (pending or queued)
	// entry for the same normalized query.
	Put(ctx context.Context, e *domain.Entry) error

	// GetByID looks an entry up by provider job id first, then by request
	// id. Returns domain.ErrNotFound when neither matches.
	GetByID(ctx context.Context, id string) (*domain.Entry, error)

	// GetByQuery normalizes the input and returns the freshest entry
	// recorded for it, or domain.ErrNotFound. Expiry filtering is left to
	// the caller so that in-flight entries always deduplicate.
	GetByQuery(ctx context.Context, query string) (*domain.Entry, error)

	// ListByStatus returns all entries currently in the given status.
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Entry, error)

	// SweepExpired physically removes terminal entries whose expiry has
	// passed and reports how many were removed. In-flight entries are never
	// removed regardless of timestamps.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
