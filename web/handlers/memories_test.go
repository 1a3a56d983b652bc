package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/storage/sqlite"
	"github.com/reveriehq/reverie/pkg/types"
)

// recordingBroadcaster collects broadcast events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []MemoryEvent
}

func (b *recordingBroadcaster) Broadcast(message interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event, ok := message.(MemoryEvent); ok {
		b.events = append(b.events, event)
	}
}

func (b *recordingBroadcaster) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, event := range b.events {
		out[i] = event.Type
	}
	return out
}

// newTestEnv wires a MemoriesHandler over an in-memory SQLite store behind
// the same route patterns the server registers.
func newTestEnv(t *testing.T) (*http.ServeMux, *sqlite.MemoryStore, *recordingBroadcaster) {
	t.Helper()

	store, err := sqlite.NewMemoryStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	events := &recordingBroadcaster{}
	h := NewMemoriesHandler(store, events)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/memories", h.List)
	mux.HandleFunc("POST /api/memories", h.Create)
	mux.HandleFunc("GET /api/memories/statistics", h.Statistics)
	mux.HandleFunc("GET /api/memories/{id}", h.Get)
	mux.HandleFunc("PUT /api/memories/{id}", h.Update)
	mux.HandleFunc("DELETE /api/memories/{id}", h.Delete)
	mux.HandleFunc("PUT /api/memories/{id}/assets", h.AddAssets)
	mux.HandleFunc("DELETE /api/memories/{id}/assets", h.RemoveAssets)

	return mux, store, events
}

// seedHandlerAsset inserts an asset row through the store's database handle.
func seedHandlerAsset(t *testing.T, store *sqlite.MemoryStore, id, ownerID string) {
	t.Helper()
	_, err := store.GetDB().Exec(
		"INSERT INTO assets (id, owner_id, type, original_file_name, file_created_at, visibility) VALUES (?, ?, ?, ?, ?, ?)",
		id, ownerID, string(types.AssetTypeImage), id+".jpg", time.Now().UTC(), string(types.VisibilityTimeline))
	if err != nil {
		t.Fatalf("failed to seed asset %s: %v", id, err)
	}
}

// doRequest runs one request through the mux with the owner header set.
func doRequest(t *testing.T, mux *http.ServeMux, method, path, owner string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeMemory(t *testing.T, w *httptest.ResponseRecorder) types.Memory {
	t.Helper()
	var memory types.Memory
	if err := json.NewDecoder(w.Body).Decode(&memory); err != nil {
		t.Fatalf("failed to decode memory: %v", err)
	}
	return memory
}

func createTestMemory(t *testing.T, store *sqlite.MemoryStore, ownerID string, assetIDs []string) *types.Memory {
	t.Helper()
	created, err := store.Create(context.Background(), &types.Memory{
		OwnerID:  ownerID,
		Type:     types.MemoryTypeOnThisDay,
		Data:     types.MemoryData{Year: 2019},
		MemoryAt: time.Date(2019, 8, 25, 0, 0, 0, 0, time.UTC),
	}, assetIDs)
	if err != nil {
		t.Fatalf("failed to create memory: %v", err)
	}
	return created
}

func TestCreateMemoryEndpoint(t *testing.T) {
	mux, store, events := newTestEnv(t)
	seedHandlerAsset(t, store, "asset-1", "user-1")
	seedHandlerAsset(t, store, "asset-2", "user-1")

	w := doRequest(t, mux, http.MethodPost, "/api/memories", "user-1", CreateMemoryRequest{
		Type:     "on_this_day",
		Data:     types.MemoryData{Year: 2021},
		MemoryAt: time.Date(2021, 8, 25, 0, 0, 0, 0, time.UTC),
		AssetIDs: []string{"asset-1", "asset-2"},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	memory := decodeMemory(t, w)
	if memory.ID == "" {
		t.Error("ID: got empty, want generated UUID")
	}
	if memory.OwnerID != "user-1" {
		t.Errorf("OwnerID: got %q, want %q", memory.OwnerID, "user-1")
	}
	if len(memory.Assets) != 2 {
		t.Errorf("Assets: got %d, want 2", len(memory.Assets))
	}

	if got := events.eventTypes(); len(got) != 1 || got[0] != EventMemoryCreated {
		t.Errorf("events: got %v, want [%s]", got, EventMemoryCreated)
	}
}

func TestCreateMemoryValidation(t *testing.T) {
	mux, _, _ := newTestEnv(t)

	valid := CreateMemoryRequest{
		Type:     "on_this_day",
		MemoryAt: time.Date(2021, 8, 25, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name  string
		owner string
		body  interface{}
	}{
		{"missing owner header", "", valid},
		{"missing type", "user-1", CreateMemoryRequest{MemoryAt: valid.MemoryAt}},
		{"unknown type", "user-1", CreateMemoryRequest{Type: "year_in_review", MemoryAt: valid.MemoryAt}},
		{"missing memory_at", "user-1", CreateMemoryRequest{Type: "on_this_day"}},
		{"malformed body", "user-1", "not json at all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if s, ok := tt.body.(string); ok {
				req := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewBufferString(s))
				if tt.owner != "" {
					req.Header.Set("X-Owner-ID", tt.owner)
				}
				w = httptest.NewRecorder()
				mux.ServeHTTP(w, req)
			} else {
				w = doRequest(t, mux, http.MethodPost, "/api/memories", tt.owner, tt.body)
			}

			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetMemoryEndpoint(t *testing.T) {
	mux, store, _ := newTestEnv(t)
	created := createTestMemory(t, store, "user-1", nil)

	w := doRequest(t, mux, http.MethodGet, "/api/memories/"+created.ID, "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeMemory(t, w); got.ID != created.ID {
		t.Errorf("ID: got %q, want %q", got.ID, created.ID)
	}

	// Another owner sees 404, not 403: foreign memories look absent.
	w = doRequest(t, mux, http.MethodGet, "/api/memories/"+created.ID, "user-2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign owner status: got %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doRequest(t, mux, http.MethodGet, "/api/memories/no-such-id", "user-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing id status: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestListMemoriesFilters(t *testing.T) {
	mux, store, _ := newTestEnv(t)

	saved := createTestMemory(t, store, "user-1", nil)
	if _, err := store.Update(context.Background(), saved.ID, storage.MemoryUpdate{IsSaved: boolPtr(true)}); err != nil {
		t.Fatalf("failed to save memory: %v", err)
	}
	createTestMemory(t, store, "user-1", nil)
	createTestMemory(t, store, "user-2", nil)

	w := doRequest(t, mux, http.MethodGet, "/api/memories", "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var memories []types.Memory
	if err := json.NewDecoder(w.Body).Decode(&memories); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(memories) != 2 {
		t.Errorf("unfiltered: got %d memories, want 2", len(memories))
	}

	w = doRequest(t, mux, http.MethodGet, "/api/memories?is_saved=true&type=on_this_day", "user-1", nil)
	memories = nil
	if err := json.NewDecoder(w.Body).Decode(&memories); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	if len(memories) != 1 || memories[0].ID != saved.ID {
		t.Errorf("saved filter: got %d memories, want the saved one", len(memories))
	}

	w = doRequest(t, mux, http.MethodGet, "/api/memories?is_saved=perhaps", "user-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad is_saved status: got %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = doRequest(t, mux, http.MethodGet, "/api/memories?for=yesterday", "user-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad for status: got %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	mux, store, _ := newTestEnv(t)
	createTestMemory(t, store, "user-1", nil)
	createTestMemory(t, store, "user-1", nil)
	createTestMemory(t, store, "user-2", nil)

	w := doRequest(t, mux, http.MethodGet, "/api/memories/statistics", "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}

	var stats StatisticsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode statistics: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total: got %d, want 2", stats.Total)
	}
}

func TestUpdateMemoryEndpoint(t *testing.T) {
	mux, store, events := newTestEnv(t)
	created := createTestMemory(t, store, "user-1", nil)

	seenAt := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	w := doRequest(t, mux, http.MethodPut, "/api/memories/"+created.ID, "user-1", UpdateMemoryRequest{
		IsSaved: boolPtr(true),
		SeenAt:  &seenAt,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	updated := decodeMemory(t, w)
	if !updated.IsSaved {
		t.Error("IsSaved: got false, want true")
	}
	if updated.SeenAt == nil || !updated.SeenAt.Equal(seenAt) {
		t.Errorf("SeenAt: got %v, want %v", updated.SeenAt, seenAt)
	}

	// Foreign owner cannot update.
	w = doRequest(t, mux, http.MethodPut, "/api/memories/"+created.ID, "user-2", UpdateMemoryRequest{IsSaved: boolPtr(false)})
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign owner status: got %d, want %d", w.Code, http.StatusNotFound)
	}

	if got := events.eventTypes(); len(got) != 1 || got[0] != EventMemoryUpdated {
		t.Errorf("events: got %v, want [%s]", got, EventMemoryUpdated)
	}
}

func TestDeleteMemoryEndpoint(t *testing.T) {
	mux, store, events := newTestEnv(t)
	created := createTestMemory(t, store, "user-1", nil)

	// Foreign owner gets 404 and the memory survives.
	w := doRequest(t, mux, http.MethodDelete, "/api/memories/"+created.ID, "user-2", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign owner status: got %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doRequest(t, mux, http.MethodDelete, "/api/memories/"+created.ID, "user-1", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusNoContent)
	}

	w = doRequest(t, mux, http.MethodGet, "/api/memories/"+created.ID, "user-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status after delete: got %d, want %d", w.Code, http.StatusNotFound)
	}

	if got := events.eventTypes(); len(got) != 1 || got[0] != EventMemoryDeleted {
		t.Errorf("events: got %v, want [%s]", got, EventMemoryDeleted)
	}
}

func TestAddAssetsEndpoint(t *testing.T) {
	mux, store, events := newTestEnv(t)
	for _, id := range []string{"asset-1", "asset-2", "asset-3"} {
		seedHandlerAsset(t, store, id, "user-1")
	}
	created := createTestMemory(t, store, "user-1", []string{"asset-1"})

	w := doRequest(t, mux, http.MethodPut, "/api/memories/"+created.ID+"/assets", "user-1", BulkAssetsRequest{
		IDs: []string{"asset-1", "asset-2", "asset-2", "asset-3"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var results []BulkIDResult
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}

	want := []BulkIDResult{
		{ID: "asset-1", Error: BulkErrorDuplicate},
		{ID: "asset-2", Success: true},
		{ID: "asset-2", Error: BulkErrorDuplicate},
		{ID: "asset-3", Success: true},
	}
	if len(results) != len(want) {
		t.Fatalf("results: got %d entries, want %d", len(results), len(want))
	}
	for i, got := range results {
		if got != want[i] {
			t.Errorf("result %d: got %+v, want %+v", i, got, want[i])
		}
	}

	if got := events.eventTypes(); len(got) != 1 || got[0] != EventMemoryAssetsAdded {
		t.Errorf("events: got %v, want [%s]", got, EventMemoryAssetsAdded)
	}

	// A second identical request reports everything as duplicate.
	w = doRequest(t, mux, http.MethodPut, "/api/memories/"+created.ID+"/assets", "user-1", BulkAssetsRequest{
		IDs: []string{"asset-2", "asset-3"},
	})
	results = nil
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	for _, got := range results {
		if got.Success || got.Error != BulkErrorDuplicate {
			t.Errorf("repeat add: got %+v, want duplicate", got)
		}
	}
}

func TestRemoveAssetsEndpoint(t *testing.T) {
	mux, store, events := newTestEnv(t)
	seedHandlerAsset(t, store, "asset-1", "user-1")
	seedHandlerAsset(t, store, "asset-2", "user-1")
	created := createTestMemory(t, store, "user-1", []string{"asset-1", "asset-2"})

	w := doRequest(t, mux, http.MethodDelete, "/api/memories/"+created.ID+"/assets", "user-1", BulkAssetsRequest{
		IDs: []string{"asset-2", "asset-9"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var results []BulkIDResult
	if err := json.NewDecoder(w.Body).Decode(&results); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}

	want := []BulkIDResult{
		{ID: "asset-2", Success: true},
		{ID: "asset-9", Error: BulkErrorNotFound},
	}
	if len(results) != len(want) {
		t.Fatalf("results: got %d entries, want %d", len(results), len(want))
	}
	for i, got := range results {
		if got != want[i] {
			t.Errorf("result %d: got %+v, want %+v", i, got, want[i])
		}
	}

	// Only asset-1 is left attached.
	remaining, err := store.GetAssetIDs(context.Background(), created.ID, []string{"asset-1", "asset-2"})
	if err != nil {
		t.Fatalf("GetAssetIDs() failed: %v", err)
	}
	if _, ok := remaining["asset-1"]; !ok || len(remaining) != 1 {
		t.Errorf("remaining membership: got %v, want asset-1 only", remaining)
	}

	if got := events.eventTypes(); len(got) != 1 || got[0] != EventMemoryAssetsRemoved {
		t.Errorf("events: got %v, want [%s]", got, EventMemoryAssetsRemoved)
	}
}

func TestBulkRoutesRequireOwnership(t *testing.T) {
	mux, store, _ := newTestEnv(t)
	seedHandlerAsset(t, store, "asset-1", "user-1")
	created := createTestMemory(t, store, "user-1", []string{"asset-1"})

	w := doRequest(t, mux, http.MethodPut, "/api/memories/"+created.ID+"/assets", "user-2", BulkAssetsRequest{IDs: []string{"asset-1"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("add status: got %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doRequest(t, mux, http.MethodDelete, "/api/memories/"+created.ID+"/assets", "user-2", BulkAssetsRequest{IDs: []string{"asset-1"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("remove status: got %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	Health(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", w.Code, http.StatusOK)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Status: got %q, want %q", health.Status, "ok")
	}
}

func boolPtr(b bool) *bool { return &b }
