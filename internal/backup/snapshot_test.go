package backup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// createSourceDB builds a small SQLite database on disk and returns its path.
func createSourceDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "library.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open source database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`CREATE TABLE memories (id TEXT PRIMARY KEY, type TEXT NOT NULL)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO memories (id, type) VALUES ('mem-1', 'on_this_day')`); err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}
	return path
}

// writeFakeSnapshot drops a placeholder .db file into dir with the given
// modification time so pruning order is deterministic.
func writeFakeSnapshot(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("old snapshot"), 0o644); err != nil {
		t.Fatalf("failed to write fake snapshot: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
	return path
}

// TestSnapshotCreatesVerifiedCopy tests that Snapshot produces a readable
// copy of the source database.
func TestSnapshotCreatesVerifiedCopy(t *testing.T) {
	source := createSourceDB(t)
	dir := t.TempDir()

	s, err := NewSnapshotter(source, dir, 3)
	if err != nil {
		t.Fatalf("NewSnapshotter() failed: %v", err)
	}

	path, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "reverie-") || !strings.HasSuffix(base, ".db") {
		t.Errorf("unexpected snapshot name %q", base)
	}

	copyDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open snapshot: %v", err)
	}
	defer func() { _ = copyDB.Close() }()

	var count int
	if err := copyDB.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		t.Fatalf("failed to query snapshot: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row in snapshot, got %d", count)
	}
}

// TestSnapshotPrunesToNewest tests that old snapshots beyond the keep count
// are removed after a new snapshot is written.
func TestSnapshotPrunesToNewest(t *testing.T) {
	source := createSourceDB(t)
	dir := t.TempDir()

	now := time.Now()
	writeFakeSnapshot(t, dir, "reverie-a.db", now.Add(-3*time.Hour))
	writeFakeSnapshot(t, dir, "reverie-b.db", now.Add(-2*time.Hour))
	newest := writeFakeSnapshot(t, dir, "reverie-c.db", now.Add(-1*time.Hour))

	s, err := NewSnapshotter(source, dir, 2)
	if err != nil {
		t.Fatalf("NewSnapshotter() failed: %v", err)
	}

	path, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}

	snapshots, err := s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots after prune, got %d", len(snapshots))
	}
	if snapshots[0].Path != path {
		t.Errorf("newest snapshot: got %s, want %s", snapshots[0].Path, path)
	}
	if snapshots[1].Path != newest {
		t.Errorf("second snapshot: got %s, want %s", snapshots[1].Path, newest)
	}
}

// TestListNewestFirst tests the ordering of List.
func TestListNewestFirst(t *testing.T) {
	dir := t.TempDir()

	now := time.Now()
	oldest := writeFakeSnapshot(t, dir, "reverie-a.db", now.Add(-3*time.Hour))
	middle := writeFakeSnapshot(t, dir, "reverie-b.db", now.Add(-2*time.Hour))
	newest := writeFakeSnapshot(t, dir, "reverie-c.db", now.Add(-1*time.Hour))

	s, err := NewSnapshotter("unused.db", dir, 5)
	if err != nil {
		t.Fatalf("NewSnapshotter() failed: %v", err)
	}

	snapshots, err := s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snapshots))
	}
	for i, want := range []string{newest, middle, oldest} {
		if snapshots[i].Path != want {
			t.Errorf("snapshot %d: got %s, want %s", i, snapshots[i].Path, want)
		}
	}
}

// TestListIgnoresOtherFiles tests that non-.db files and subdirectories are
// skipped.
func TestListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.db"), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	writeFakeSnapshot(t, dir, "reverie-a.db", time.Now())

	s, err := NewSnapshotter("unused.db", dir, 5)
	if err != nil {
		t.Fatalf("NewSnapshotter() failed: %v", err)
	}

	snapshots, err := s.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(snapshots) != 1 {
		t.Errorf("expected 1 snapshot, got %d", len(snapshots))
	}
}

// TestNewSnapshotterRequiresPaths tests argument validation.
func TestNewSnapshotterRequiresPaths(t *testing.T) {
	if _, err := NewSnapshotter("", t.TempDir(), 3); err == nil {
		t.Error("expected error for empty database path")
	}
	if _, err := NewSnapshotter("library.db", "", 3); err == nil {
		t.Error("expected error for empty snapshot directory")
	}
}

// TestSnapshotFailsOnMissingSource tests that a nonexistent source database
// is reported rather than producing an empty snapshot.
func TestSnapshotFailsOnMissingSource(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSnapshotter(filepath.Join(dir, "absent.db"), dir, 3)
	if err != nil {
		t.Fatalf("NewSnapshotter() failed: %v", err)
	}

	if _, err := s.Snapshot(context.Background()); err == nil {
		t.Fatal("expected error for missing source database")
	}
}

// TestVerifyRejectsGarbageFile tests that integrity verification fails for
// a file that is not a SQLite database.
func TestVerifyRejectsGarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := verifySnapshot(context.Background(), path); err == nil {
		t.Fatal("expected integrity check to fail")
	}
}
