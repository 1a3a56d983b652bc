package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/reveriehq/reverie/internal/maintenance"
	"github.com/reveriehq/reverie/internal/storage"
)

// MaintenanceHandler exposes the cleanup sweeper over HTTP.
type MaintenanceHandler struct {
	service *maintenance.Service
}

// NewMaintenanceHandler creates the handler.
func NewMaintenanceHandler(service *maintenance.Service) *MaintenanceHandler {
	return &MaintenanceHandler{service: service}
}

// TriggerCleanup handles POST /api/maintenance/cleanup - run a sweep
// immediately and return its counts. While the circuit breaker is open the
// request is rejected with 503.
func (h *MaintenanceHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunNow(r.Context())
	if err != nil {
		if errors.Is(err, maintenance.ErrCircuitOpen) {
			respondError(w, http.StatusServiceUnavailable, "cleanup temporarily disabled", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "cleanup failed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Status handles GET /api/maintenance/status - report the sweeper state.
func (h *MaintenanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Status())
}

// CleanupNotifier adapts the event hub to the maintenance service's
// Notifier interface, keeping the maintenance package free of any handler
// dependency.
type CleanupNotifier struct {
	events Broadcaster
}

// NewCleanupNotifier creates the adapter.
func NewCleanupNotifier(events Broadcaster) *CleanupNotifier {
	return &CleanupNotifier{events: events}
}

// CleanupCompleted broadcasts a maintenance.cleanup event to all clients.
func (n *CleanupNotifier) CleanupCompleted(result storage.CleanupResult) {
	if n.events == nil {
		return
	}
	n.events.Broadcast(MemoryEvent{
		Type:      EventMaintenanceCleanup,
		Timestamp: time.Now().UTC(),
		Detail: map[string]interface{}{
			"detached_assets":  result.DetachedAssets,
			"removed_memories": result.RemovedMemories,
		},
	})
}
