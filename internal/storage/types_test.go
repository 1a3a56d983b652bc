package storage_test

import (
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

func TestMemoryUpdateIsZero(t *testing.T) {
	if !(storage.MemoryUpdate{}).IsZero() {
		t.Error("empty update: IsZero() = false, want true")
	}

	now := time.Now()
	saved := true
	nonEmpty := []storage.MemoryUpdate{
		{MemoryAt: &now},
		{SeenAt: &now},
		{ShowAt: &now},
		{HideAt: &now},
		{IsSaved: &saved},
		{Data: &types.MemoryData{Year: 2016}},
	}
	for i, u := range nonEmpty {
		if u.IsZero() {
			t.Errorf("update %d: IsZero() = true, want false", i)
		}
	}
}
