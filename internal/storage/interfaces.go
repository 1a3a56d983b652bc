// Package storage defines the storage contracts for the Reverie memories
// subsystem.
//
// The interfaces are small and backend-agnostic; PostgreSQL and SQLite
// implementations live in their own subpackages and are interchangeable
// behind MemoryRepository.
package storage

import (
	"context"

	"github.com/reveriehq/reverie/pkg/types"
)

// MemoryRepository provides persistence for memories and their asset
// membership. All read shapes nest timeline-visible, non-deleted assets
// ordered by capture time.
//
// Identifier arguments arrive validated and authorized by the caller.
// Database errors propagate unmodified apart from message wrapping: the
// repository never retries and never translates driver errors.
type MemoryRepository interface {
	// Statistics counts the owner's memories matching the filter.
	Statistics(ctx context.Context, ownerID string, filter MemoryFilter) (int, error)

	// Search returns the owner's memories matching the filter, newest
	// memory_at first, each with its nested assets.
	Search(ctx context.Context, ownerID string, filter MemoryFilter) ([]types.Memory, error)

	// Get retrieves a live memory by ID with its nested assets.
	// Returns (nil, nil) if no such memory exists: absence is a normal
	// outcome for this lookup, not an error.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Create inserts the memory and its initial asset membership in one
	// transaction, then returns the materialized memory re-fetched by ID.
	// A missing ID is generated; CreatedAt/UpdatedAt default to now.
	// Failure to re-fetch the just-created row is an error.
	Create(ctx context.Context, memory *types.Memory, assetIDs []string) (*types.Memory, error)

	// Update applies a partial patch and returns the memory re-fetched by
	// ID. Returns ErrNotFound if the memory does not exist (or is deleted).
	Update(ctx context.Context, id string, patch MemoryUpdate) (*types.Memory, error)

	// Delete hard-deletes a memory; its join rows go with it. Deleting a
	// missing ID is a no-op.
	Delete(ctx context.Context, id string) error

	// GetAssetIDs returns which of the candidate asset IDs are currently
	// members of the memory. An empty candidate set returns an empty set
	// without touching the database.
	GetAssetIDs(ctx context.Context, id string, assetIDs []string) (map[string]struct{}, error)

	// AddAssetIDs inserts one join row per asset ID in one transaction.
	// Empty input is a no-op. Adding an existing member violates the join
	// table's primary key and surfaces as a driver error; callers are
	// expected to pre-filter with GetAssetIDs.
	AddAssetIDs(ctx context.Context, id string, assetIDs []string) error

	// RemoveAssetIDs deletes the join rows for the given asset IDs.
	// Empty input is a no-op.
	RemoveAssetIDs(ctx context.Context, id string, assetIDs []string) error

	// Cleanup runs the maintenance sweep: detach assets that are no longer
	// timeline-visible, then remove unsaved memories older than
	// RetentionPeriod. Running it again immediately removes nothing.
	Cleanup(ctx context.Context) (CleanupResult, error)

	// Close releases the underlying database resources.
	Close() error
}
