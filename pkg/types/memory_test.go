package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/reveriehq/reverie/pkg/types"
)

// TestIsValidMemoryType verifies known and unknown memory kinds.
func TestIsValidMemoryType(t *testing.T) {
	if !types.IsValidMemoryType("on_this_day") {
		t.Error("expected on_this_day to be a valid memory type")
	}
	if types.IsValidMemoryType("best_of_year") {
		t.Error("expected best_of_year to be rejected")
	}
	if types.IsValidMemoryType("") {
		t.Error("expected empty string to be rejected")
	}
}

// TestIsValidVisibility verifies the visibility state set.
func TestIsValidVisibility(t *testing.T) {
	for _, v := range []string{"timeline", "hidden", "archive", "locked"} {
		if !types.IsValidVisibility(v) {
			t.Errorf("expected %q to be a valid visibility", v)
		}
	}
	if types.IsValidVisibility("trash") {
		t.Error("expected trash to be rejected")
	}
}

// TestMemoryJSONShape verifies the wire shape of a fully populated memory.
func TestMemoryJSONShape(t *testing.T) {
	seen := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
	m := types.Memory{
		ID:       "f4e2b7a0-0000-0000-0000-000000000001",
		OwnerID:  "user-1",
		Type:     types.MemoryTypeOnThisDay,
		Data:     types.MemoryData{Year: 2021},
		MemoryAt: time.Date(2021, 6, 2, 0, 0, 0, 0, time.UTC),
		SeenAt:   &seen,
		IsSaved:  true,
		Assets:   []types.Asset{},
	}

	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["type"] != "on_this_day" {
		t.Errorf("expected type on_this_day, got %v", decoded["type"])
	}
	if decoded["is_saved"] != true {
		t.Errorf("expected is_saved true, got %v", decoded["is_saved"])
	}
	data, ok := decoded["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %T", decoded["data"])
	}
	if data["year"] != float64(2021) {
		t.Errorf("expected data.year 2021, got %v", data["year"])
	}
	if _, present := decoded["deleted_at"]; present {
		t.Error("expected deleted_at to be omitted when nil")
	}
	if _, present := decoded["assets"]; !present {
		t.Error("expected assets to always be present")
	}
}
