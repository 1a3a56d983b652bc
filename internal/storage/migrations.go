package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// MigrationManager applies plain-SQL schema migrations on top of the
// embedded base schema. It reads NNN_name.up.sql / NNN_name.down.sql files
// from a directory and applies them in version order, recording progress in
// a schema_migrations table. Works unchanged on both SQLite and PostgreSQL
// since it only issues the operator's SQL plus trivial bookkeeping.
type MigrationManager struct {
	db  *sql.DB
	dir string
}

// migration is one up/down file pair.
type migration struct {
	version  uint
	name     string
	upFile   string
	downFile string
}

// NewMigrationManager creates a manager for the given database and
// migrations directory. The directory must exist and contain files named
// NNN_name.up.sql (and optionally NNN_name.down.sql).
func NewMigrationManager(db *sql.DB, dir string) (*MigrationManager, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("migrations: directory does not exist: %s", dir)
	}

	mgr := &MigrationManager{db: db, dir: dir}
	if err := mgr.ensureSchemaTable(); err != nil {
		return nil, fmt.Errorf("migrations: failed to create schema table: %w", err)
	}

	return mgr, nil
}

func (mgr *MigrationManager) ensureSchemaTable() error {
	_, err := mgr.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// Up applies all pending migrations in ascending version order and returns
// how many were applied. Zero with a nil error means already up to date.
func (mgr *MigrationManager) Up(ctx context.Context) (int, error) {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return 0, err
	}

	current, err := mgr.Version()
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		stmt, err := os.ReadFile(m.upFile)
		if err != nil {
			return applied, fmt.Errorf("migrations: failed to read %s: %w", m.upFile, err)
		}

		if _, err := mgr.db.ExecContext(ctx, string(stmt)); err != nil {
			return applied, fmt.Errorf("migrations: failed to apply version %d (%s): %w", m.version, m.name, err)
		}

		// Versions come from filenames, so inlining keeps the statement
		// portable across placeholder dialects.
		record := fmt.Sprintf("INSERT INTO schema_migrations (version) VALUES (%d)", m.version)
		if _, err := mgr.db.ExecContext(ctx, record); err != nil {
			return applied, fmt.Errorf("migrations: failed to record version %d: %w", m.version, err)
		}

		applied++
	}

	return applied, nil
}

// Down rolls back up to steps applied migrations, newest first. Steps <= 0
// rolls back everything. Migrations without a down file stop the rollback.
func (mgr *MigrationManager) Down(ctx context.Context, steps int) (int, error) {
	migrations, err := mgr.loadMigrations()
	if err != nil {
		return 0, err
	}

	current, err := mgr.Version()
	if errors.Is(err, ErrNoMigration) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version > migrations[j].version
	})

	rolledBack := 0
	for _, m := range migrations {
		if m.version > current {
			continue
		}
		if steps > 0 && rolledBack >= steps {
			break
		}
		if m.downFile == "" {
			return rolledBack, fmt.Errorf("migrations: version %d (%s) has no down file", m.version, m.name)
		}

		stmt, err := os.ReadFile(m.downFile)
		if err != nil {
			return rolledBack, fmt.Errorf("migrations: failed to read %s: %w", m.downFile, err)
		}

		if _, err := mgr.db.ExecContext(ctx, string(stmt)); err != nil {
			return rolledBack, fmt.Errorf("migrations: failed to roll back version %d (%s): %w", m.version, m.name, err)
		}

		remove := fmt.Sprintf("DELETE FROM schema_migrations WHERE version = %d", m.version)
		if _, err := mgr.db.ExecContext(ctx, remove); err != nil {
			return rolledBack, fmt.Errorf("migrations: failed to remove version %d: %w", m.version, err)
		}

		rolledBack++
	}

	return rolledBack, nil
}

// Version returns the highest applied migration version, or ErrNoMigration
// when the ledger is empty.
func (mgr *MigrationManager) Version() (uint, error) {
	var version uint
	err := mgr.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to query version: %w", err)
	}

	if version == 0 {
		return 0, ErrNoMigration
	}

	return version, nil
}

// loadMigrations parses the directory into version-sorted up/down pairs.
// Files that don't match NNN_name.up.sql / NNN_name.down.sql are ignored.
func (mgr *MigrationManager) loadMigrations() ([]migration, error) {
	entries, err := os.ReadDir(mgr.dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to read directory: %w", err)
	}

	byVersion := make(map[uint]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		versionStr, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}

		versionInt, err := strconv.ParseUint(versionStr, 10, 64)
		if err != nil {
			continue
		}
		version := uint(versionInt)

		m, ok := byVersion[version]
		if !ok {
			m = &migration{version: version}
			byVersion[version] = m
		}

		fullPath := filepath.Join(mgr.dir, name)
		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			m.name = strings.TrimSuffix(rest, ".up.sql")
			m.upFile = fullPath
		case strings.HasSuffix(rest, ".down.sql"):
			m.downFile = fullPath
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.upFile == "" {
			continue
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})

	return migrations, nil
}
