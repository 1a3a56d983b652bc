package types

import "time"

// MemoryType identifies the kind of generated memory.
type MemoryType string

const (
	// MemoryTypeOnThisDay resurfaces assets captured on the same calendar
	// day in an earlier year.
	MemoryTypeOnThisDay MemoryType = "on_this_day"
)

// IsValidMemoryType reports whether memoryType is a known memory kind.
func IsValidMemoryType(memoryType string) bool {
	switch MemoryType(memoryType) {
	case MemoryTypeOnThisDay:
		return true
	}
	return false
}

// MemoryData is the type-specific payload stored alongside a memory.
// For on_this_day memories it records the year the assets were captured.
type MemoryData struct {
	Year int `json:"year"`
}

// Memory is a generated collection of assets resurfaced to its owner at a
// point in time ("on this day, three years ago"). Rows are produced by the
// generation job and curated by the owner (saved, hidden, deleted).
type Memory struct {
	// Identity and classification
	ID      string     `json:"id"`       // Unique identifier (UUID)
	OwnerID string     `json:"owner_id"` // User the memory belongs to
	Type    MemoryType `json:"type"`     // Kind of memory (on_this_day)
	Data    MemoryData `json:"data"`     // Type-specific payload

	// Timeline placement
	MemoryAt  time.Time `json:"memory_at"`  // Instant the memory commemorates
	CreatedAt time.Time `json:"created_at"` // When the row was created
	UpdatedAt time.Time `json:"updated_at"` // Last modification

	// Curation state
	SeenAt  *time.Time `json:"seen_at,omitempty"` // When the owner viewed it (nil = unseen)
	ShowAt  *time.Time `json:"show_at,omitempty"` // Display window opens (nil = no lower bound)
	HideAt  *time.Time `json:"hide_at,omitempty"` // Display window closes (nil = no upper bound)
	IsSaved bool       `json:"is_saved"`          // Owner pinned the memory past retention

	// Soft delete (nil = live)
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Assets resurfaced by this memory: timeline-visible, non-deleted,
	// ordered by capture time. Populated on reads, never nil.
	Assets []Asset `json:"assets"`
}
