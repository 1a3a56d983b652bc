package types

import "time"

// AssetVisibility controls where an asset may surface in the app.
type AssetVisibility string

const (
	VisibilityTimeline AssetVisibility = "timeline"
	VisibilityHidden   AssetVisibility = "hidden"
	VisibilityArchive  AssetVisibility = "archive"
	VisibilityLocked   AssetVisibility = "locked"
)

// IsValidVisibility reports whether visibility is a known visibility state.
func IsValidVisibility(visibility string) bool {
	switch AssetVisibility(visibility) {
	case VisibilityTimeline, VisibilityHidden, VisibilityArchive, VisibilityLocked:
		return true
	}
	return false
}

// AssetType distinguishes still images from videos.
type AssetType string

const (
	AssetTypeImage AssetType = "image"
	AssetTypeVideo AssetType = "video"
)

// Asset is the projection of a library asset as the memories subsystem sees
// it. The library service owns the full record; only the fields needed to
// render a memory are carried here.
type Asset struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Type             AssetType       `json:"type"`
	OriginalFileName string          `json:"original_file_name"`
	FileCreatedAt    time.Time       `json:"file_created_at"`
	Visibility       AssetVisibility `json:"visibility"`
}
