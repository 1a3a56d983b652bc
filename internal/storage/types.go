package storage

import (
	"errors"
	"time"

	"github.com/reveriehq/reverie/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// RetentionPeriod is how long an unsaved memory survives before the cleanup
// sweep removes it. Saved memories are kept indefinitely.
const RetentionPeriod = 30 * 24 * time.Hour

// MemoryFilter narrows search and statistics queries. The zero value matches
// every live memory of the owner.
type MemoryFilter struct {
	// IsSaved filters on the saved flag. Nil means no filter.
	IsSaved *bool

	// Type filters on the memory kind. Empty string means all kinds.
	Type types.MemoryType

	// For is the reference instant for the display window: only memories
	// whose show_at/hide_at bounds admit this instant match. Nil disables
	// the window check. A missing bound never excludes a row.
	For *time.Time

	// IsTrashed restricts results to soft-deleted memories when true.
	// When false, only live memories match.
	IsTrashed bool
}

// MemoryUpdate is a partial patch applied to an existing memory. Nil fields
// are left unchanged. Every applied patch also bumps updated_at.
type MemoryUpdate struct {
	// MemoryAt moves the instant the memory commemorates.
	MemoryAt *time.Time

	// SeenAt records when the owner viewed the memory.
	SeenAt *time.Time

	// ShowAt moves the display window open bound.
	ShowAt *time.Time

	// HideAt moves the display window close bound.
	HideAt *time.Time

	// IsSaved pins or unpins the memory.
	IsSaved *bool

	// Data replaces the type-specific payload.
	Data *types.MemoryData
}

// IsZero reports whether the patch would change nothing beyond updated_at.
func (u MemoryUpdate) IsZero() bool {
	return u.MemoryAt == nil && u.SeenAt == nil && u.ShowAt == nil &&
		u.HideAt == nil && u.IsSaved == nil && u.Data == nil
}

// CleanupResult reports what a cleanup sweep removed.
type CleanupResult struct {
	// DetachedAssets is the number of join rows removed because their asset
	// is no longer timeline-visible.
	DetachedAssets int64 `json:"detached_assets"`

	// RemovedMemories is the number of unsaved memories removed for being
	// older than RetentionPeriod.
	RemovedMemories int64 `json:"removed_memories"`
}
