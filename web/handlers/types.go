package handlers

import (
	"time"

	"github.com/reveriehq/reverie/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatisticsResponse is the response format for GET /api/memories/statistics.
type StatisticsResponse struct {
	Total int `json:"total"`
}

// CreateMemoryRequest is the request body for POST /api/memories.
type CreateMemoryRequest struct {
	Type     string           `json:"type"`
	Data     types.MemoryData `json:"data"`
	MemoryAt time.Time        `json:"memory_at"`
	SeenAt   *time.Time       `json:"seen_at,omitempty"`
	ShowAt   *time.Time       `json:"show_at,omitempty"`
	HideAt   *time.Time       `json:"hide_at,omitempty"`
	IsSaved  bool             `json:"is_saved"`
	AssetIDs []string         `json:"asset_ids,omitempty"`
}

// UpdateMemoryRequest is the request body for PUT /api/memories/{id}.
// All fields are optional for partial updates.
type UpdateMemoryRequest struct {
	MemoryAt *time.Time        `json:"memory_at,omitempty"`
	SeenAt   *time.Time        `json:"seen_at,omitempty"`
	ShowAt   *time.Time        `json:"show_at,omitempty"`
	HideAt   *time.Time        `json:"hide_at,omitempty"`
	IsSaved  *bool             `json:"is_saved,omitempty"`
	Data     *types.MemoryData `json:"data,omitempty"`
}

// BulkAssetsRequest is the request body for the asset membership routes.
type BulkAssetsRequest struct {
	IDs []string `json:"ids"`
}

// BulkIDResult reports the outcome for one asset ID in a bulk operation.
// Error is empty on success, "duplicate" when the asset is already a member,
// and "not_found" when it was not a member to begin with.
type BulkIDResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Bulk operation error reasons.
const (
	BulkErrorDuplicate = "duplicate"
	BulkErrorNotFound  = "not_found"
)

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
}
