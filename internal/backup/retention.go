package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SnapshotInfo describes one snapshot file on disk.
type SnapshotInfo struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// List returns the snapshots in the directory, newest first. Only regular
// .db files count; anything else in the directory is ignored.
func (s *Snapshotter) List() ([]SnapshotInfo, error) {
	return listSnapshots(s.dir)
}

func listSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read snapshot directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // Skip files we can't stat
		}
		snapshots = append(snapshots, SnapshotInfo{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// prune removes all but the newest keep snapshots.
func (s *Snapshotter) prune() error {
	snapshots, err := listSnapshots(s.dir)
	if err != nil {
		return err
	}
	if len(snapshots) <= s.keep {
		return nil
	}

	var lastErr error
	for _, old := range snapshots[s.keep:] {
		if err := os.Remove(old.Path); err != nil {
			lastErr = err
			// Keep deleting the rest even if one fails
		}
	}
	if lastErr != nil {
		return fmt.Errorf("backup: failed to delete some snapshots: %w", lastErr)
	}
	return nil
}
