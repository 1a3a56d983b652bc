package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// MemoriesHandler serves the /api/memories routes. Every route is scoped to
// the owner named by the X-Owner-ID header; memories of other owners are
// indistinguishable from absent ones.
type MemoriesHandler struct {
	repo   storage.MemoryRepository
	events Broadcaster
}

// NewMemoriesHandler creates the handler. events may be nil when no hub is
// running, for example in one-shot CLI use.
func NewMemoriesHandler(repo storage.MemoryRepository, events Broadcaster) *MemoriesHandler {
	return &MemoriesHandler{repo: repo, events: events}
}

// List handles GET /api/memories - search the owner's memories.
func (h *MemoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter", err)
		return
	}

	memories, err := h.repo.Search(r.Context(), owner, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to search memories", err)
		return
	}
	if memories == nil {
		memories = []types.Memory{}
	}
	respondJSON(w, http.StatusOK, memories)
}

// Statistics handles GET /api/memories/statistics - count the owner's
// memories matching the same filters List accepts.
func (h *MemoriesHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter", err)
		return
	}

	total, err := h.repo.Statistics(r.Context(), owner, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count memories", err)
		return
	}
	respondJSON(w, http.StatusOK, StatisticsResponse{Total: total})
}

// Create handles POST /api/memories - create a memory with its initial
// asset membership.
func (h *MemoriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}

	var req CreateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if req.Type == "" {
		respondError(w, http.StatusBadRequest, "type is required", nil)
		return
	}
	if !types.IsValidMemoryType(req.Type) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown memory type %q", req.Type), nil)
		return
	}
	if req.MemoryAt.IsZero() {
		respondError(w, http.StatusBadRequest, "memory_at is required", nil)
		return
	}

	memory := &types.Memory{
		OwnerID:  owner,
		Type:     types.MemoryType(req.Type),
		Data:     req.Data,
		MemoryAt: req.MemoryAt,
		SeenAt:   req.SeenAt,
		ShowAt:   req.ShowAt,
		HideAt:   req.HideAt,
		IsSaved:  req.IsSaved,
	}

	created, err := h.repo.Create(r.Context(), memory, req.AssetIDs)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid memory", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create memory", err)
		return
	}

	h.publish(EventMemoryCreated, owner, created.ID, map[string]interface{}{
		"type": string(created.Type),
	})
	respondJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/memories/{id}.
func (h *MemoriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	memory := h.fetchOwned(w, r, owner, id)
	if memory == nil {
		return
	}
	respondJSON(w, http.StatusOK, memory)
}

// Update handles PUT /api/memories/{id} - apply a partial patch.
func (h *MemoriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var req UpdateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if h.fetchOwned(w, r, owner, id) == nil {
		return
	}

	patch := storage.MemoryUpdate{
		MemoryAt: req.MemoryAt,
		SeenAt:   req.SeenAt,
		ShowAt:   req.ShowAt,
		HideAt:   req.HideAt,
		IsSaved:  req.IsSaved,
		Data:     req.Data,
	}

	updated, err := h.repo.Update(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "memory not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update memory", err)
		return
	}

	h.publish(EventMemoryUpdated, owner, id, nil)
	respondJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/memories/{id}.
func (h *MemoriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	if h.fetchOwned(w, r, owner, id) == nil {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete memory", err)
		return
	}

	h.publish(EventMemoryDeleted, owner, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// AddAssets handles PUT /api/memories/{id}/assets - bulk-add asset
// membership with a per-ID result list.
func (h *MemoriesHandler) AddAssets(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var req BulkAssetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if h.fetchOwned(w, r, owner, id) == nil {
		return
	}

	results := make([]BulkIDResult, 0, len(req.IDs))
	if len(req.IDs) == 0 {
		respondJSON(w, http.StatusOK, results)
		return
	}

	existing, err := h.repo.GetAssetIDs(r.Context(), id, req.IDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check asset membership", err)
		return
	}

	// Existing members and repeats within the request both count as
	// duplicates; only the rest get inserted.
	toAdd := make([]string, 0, len(req.IDs))
	seen := make(map[string]struct{}, len(req.IDs))
	for _, assetID := range req.IDs {
		_, isMember := existing[assetID]
		_, repeated := seen[assetID]
		if isMember || repeated {
			results = append(results, BulkIDResult{ID: assetID, Error: BulkErrorDuplicate})
			continue
		}
		seen[assetID] = struct{}{}
		toAdd = append(toAdd, assetID)
		results = append(results, BulkIDResult{ID: assetID, Success: true})
	}

	if len(toAdd) > 0 {
		if err := h.repo.AddAssetIDs(r.Context(), id, toAdd); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to add assets", err)
			return
		}
		h.publish(EventMemoryAssetsAdded, owner, id, map[string]interface{}{
			"count": len(toAdd),
		})
	}
	respondJSON(w, http.StatusOK, results)
}

// RemoveAssets handles DELETE /api/memories/{id}/assets - bulk-remove asset
// membership with a per-ID result list.
func (h *MemoriesHandler) RemoveAssets(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner-ID header is required", nil)
		return
	}
	id := extractID(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "memory ID is required", nil)
		return
	}

	var req BulkAssetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	if h.fetchOwned(w, r, owner, id) == nil {
		return
	}

	results := make([]BulkIDResult, 0, len(req.IDs))
	if len(req.IDs) == 0 {
		respondJSON(w, http.StatusOK, results)
		return
	}

	members, err := h.repo.GetAssetIDs(r.Context(), id, req.IDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check asset membership", err)
		return
	}

	toRemove := make([]string, 0, len(req.IDs))
	seen := make(map[string]struct{}, len(req.IDs))
	for _, assetID := range req.IDs {
		_, isMember := members[assetID]
		_, repeated := seen[assetID]
		if !isMember || repeated {
			results = append(results, BulkIDResult{ID: assetID, Error: BulkErrorNotFound})
			continue
		}
		seen[assetID] = struct{}{}
		toRemove = append(toRemove, assetID)
		results = append(results, BulkIDResult{ID: assetID, Success: true})
	}

	if len(toRemove) > 0 {
		if err := h.repo.RemoveAssetIDs(r.Context(), id, toRemove); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to remove assets", err)
			return
		}
		h.publish(EventMemoryAssetsRemoved, owner, id, map[string]interface{}{
			"count": len(toRemove),
		})
	}
	respondJSON(w, http.StatusOK, results)
}

// fetchOwned loads the memory and hides rows of other owners behind 404.
// On any failure it writes the response and returns nil.
func (h *MemoriesHandler) fetchOwned(w http.ResponseWriter, r *http.Request, owner, id string) *types.Memory {
	memory, err := h.repo.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get memory", err)
		return nil
	}
	if memory == nil || memory.OwnerID != owner {
		respondError(w, http.StatusNotFound, "memory not found", nil)
		return nil
	}
	return memory
}

// publish sends an event to the hub when one is attached.
func (h *MemoriesHandler) publish(eventType, owner, memoryID string, detail map[string]interface{}) {
	if h.events == nil {
		return
	}
	h.events.Broadcast(MemoryEvent{
		Type:      eventType,
		OwnerID:   owner,
		MemoryID:  memoryID,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// parseFilter builds a storage.MemoryFilter from the query string.
func parseFilter(r *http.Request) (storage.MemoryFilter, error) {
	var filter storage.MemoryFilter
	q := r.URL.Query()

	if v := q.Get("type"); v != "" {
		if !types.IsValidMemoryType(v) {
			return filter, fmt.Errorf("unknown memory type %q", v)
		}
		filter.Type = types.MemoryType(v)
	}
	if v := q.Get("is_saved"); v != "" {
		saved, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid is_saved value %q", v)
		}
		filter.IsSaved = &saved
	}
	if v := q.Get("is_trashed"); v != "" {
		trashed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid is_trashed value %q", v)
		}
		filter.IsTrashed = trashed
	}
	if v := q.Get("for"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid for timestamp %q", v)
		}
		filter.For = &at
	}
	return filter, nil
}
