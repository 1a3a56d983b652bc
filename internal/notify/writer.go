// Package notify provides cross-process event notification between
// reverie-maintenance and reverie-server using filesystem events. One-shot
// operator runs write event files next to the SQLite database; the running
// server picks them up and rebroadcasts to websocket clients.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Event is the payload written to an event file.
type Event struct {
	Type            string `json:"type"`
	MemoryID        string `json:"memory_id,omitempty"`
	DetachedAssets  int64  `json:"detached_assets,omitempty"`
	RemovedMemories int64  `json:"removed_memories,omitempty"`
	Time            int64  `json:"time"`
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to {dataPath}/events/.
func NewEventWriter(dataPath string) *EventWriter {
	return &EventWriter{dir: filepath.Join(dataPath, "events")}
}

// Notify writes an event file, stamping the event time. Safe to call
// concurrently. Errors are returned but not fatal.
func (w *EventWriter) Notify(event Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	event.Time = time.Now().UnixNano()

	data, _ := json.Marshal(event)
	filename := fmt.Sprintf("%d-%s.event", event.Time, sanitizeName(event.Type))
	path := filepath.Join(w.dir, filename)
	return os.WriteFile(path, data, 0o600)
}

// sanitizeName replaces characters unsafe for filenames.
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
