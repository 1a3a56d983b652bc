// Package backup creates point-in-time snapshots of the SQLite library
// database with integrity verification and keep-newest-N pruning.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Snapshotter writes consistent copies of a SQLite database into a
// directory and prunes old copies down to a fixed count.
type Snapshotter struct {
	dbPath string
	dir    string
	keep   int
}

// NewSnapshotter prepares a snapshotter for the database at dbPath. The
// snapshot directory is created if missing. keep is clamped to at least 1
// so pruning can never remove the snapshot it just made.
func NewSnapshotter(dbPath, dir string, keep int) (*Snapshotter, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("backup: database path is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("backup: snapshot directory is required")
	}
	if keep < 1 {
		keep = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create snapshot directory: %w", err)
	}
	return &Snapshotter{dbPath: dbPath, dir: dir, keep: keep}, nil
}

// Snapshot writes a new timestamped snapshot, verifies its integrity, and
// prunes older snapshots beyond the keep count. It returns the path of the
// new snapshot. When pruning fails the snapshot itself is kept and the
// error reports both facts.
func (s *Snapshotter) Snapshot(ctx context.Context) (string, error) {
	name := fmt.Sprintf("reverie-%s.db", time.Now().UTC().Format("20060102-150405.000000"))
	dest := filepath.Join(s.dir, name)

	if err := vacuumInto(ctx, s.dbPath, dest); err != nil {
		return "", err
	}
	if err := verifySnapshot(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	if err := s.prune(); err != nil {
		return dest, fmt.Errorf("backup: snapshot %s created but pruning failed: %w", name, err)
	}
	return dest, nil
}

// vacuumInto copies the live database into destPath using VACUUM INTO,
// which produces a consistent copy even under WAL mode.
func vacuumInto(ctx context.Context, sourcePath, destPath string) error {
	source, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("backup: failed to open source database: %w", err)
	}
	defer func() { _ = source.Close() }()

	if err := source.PingContext(ctx); err != nil {
		return fmt.Errorf("backup: failed to ping source database: %w", err)
	}

	if _, err := source.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("backup: failed to write snapshot: %w", err)
	}
	return nil
}

// verifySnapshot opens the snapshot read-only and runs SQLite's
// integrity_check pragma against it.
func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: integrity check failed: %s", result)
	}
	return nil
}
