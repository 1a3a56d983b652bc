// Command reverie-maintenance runs one-shot operator tasks against the
// configured store: cleanup sweeps, snapshots, and schema migrations.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/reveriehq/reverie/internal/backup"
	"github.com/reveriehq/reverie/internal/config"
	"github.com/reveriehq/reverie/internal/notify"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/storage/postgres"
	"github.com/reveriehq/reverie/internal/storage/sqlite"
	"github.com/reveriehq/reverie/web/handlers"
)

var (
	cleanupCmd = flag.Bool("cleanup", false, "Run a cleanup sweep and exit")
	backupCmd  = flag.Bool("backup", false, "Write a database snapshot and exit (SQLite only)")
	listCmd    = flag.Bool("list", false, "List available snapshots and exit")
	migrateCmd = flag.Bool("migrate", false, "Apply pending migrations and exit")
	downSteps  = flag.Int("down", 0, "Roll back this many migrations and exit")
)

func main() {
	flag.Parse()

	// Load .env if present; the real environment wins over file values
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	switch {
	case *cleanupCmd:
		handleCleanup(ctx, cfg)
	case *backupCmd:
		handleBackup(ctx, cfg)
	case *listCmd:
		handleList(cfg)
	case *migrateCmd:
		handleMigrate(ctx, cfg)
	case *downSteps > 0:
		handleDown(ctx, cfg, *downSteps)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func handleCleanup(ctx context.Context, cfg *config.Config) {
	store := mustOpenStore(cfg)
	defer store.Close()

	log.Println("Running cleanup sweep...")
	result, err := store.Cleanup(ctx)
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}

	log.Printf("Cleanup completed:")
	log.Printf("  Detached assets:  %d", result.DetachedAssets)
	log.Printf("  Removed memories: %d", result.RemovedMemories)

	// Tell a running server about the sweep so websocket clients hear it
	if cfg.Database.Engine == "sqlite" {
		writer := notify.NewEventWriter(filepath.Dir(cfg.Database.Path))
		err := writer.Notify(notify.Event{
			Type:            handlers.EventMaintenanceCleanup,
			DetachedAssets:  result.DetachedAssets,
			RemovedMemories: result.RemovedMemories,
		})
		if err != nil {
			log.Printf("Warning: failed to write cleanup event: %v", err)
		}
	}
}

func handleBackup(ctx context.Context, cfg *config.Config) {
	if cfg.Database.Engine != "sqlite" {
		log.Fatalf("Snapshots are only supported for the sqlite engine (got %q)", cfg.Database.Engine)
	}

	snapshotter := mustSnapshotter(cfg)

	log.Println("Writing snapshot...")
	path, err := snapshotter.Snapshot(ctx)
	if err != nil {
		log.Fatalf("Snapshot failed: %v", err)
	}
	log.Printf("Snapshot written to %s", path)
}

func handleList(cfg *config.Config) {
	snapshotter := mustSnapshotter(cfg)

	snapshots, err := snapshotter.List()
	if err != nil {
		log.Fatalf("Failed to list snapshots: %v", err)
	}

	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return
	}

	fmt.Printf("Found %d snapshot(s):\n\n", len(snapshots))
	for i, s := range snapshots {
		fmt.Printf("%d. %s\n", i+1, s.Path)
		fmt.Printf("   Size: %.2f MB\n", float64(s.Size)/(1024*1024))
		fmt.Printf("   Created: %s (%s ago)\n",
			s.Timestamp.Format(time.RFC3339),
			time.Since(s.Timestamp).Round(time.Minute))
		fmt.Println()
	}
}

func handleMigrate(ctx context.Context, cfg *config.Config) {
	store := mustOpenStore(cfg)
	defer store.Close()

	mgr := mustMigrationManager(store, cfg)

	applied, err := mgr.Up(ctx)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if applied == 0 {
		log.Println("Schema already up to date")
	} else {
		log.Printf("Applied %d migration(s)", applied)
	}
	logVersion(mgr)
}

func handleDown(ctx context.Context, cfg *config.Config, steps int) {
	store := mustOpenStore(cfg)
	defer store.Close()

	mgr := mustMigrationManager(store, cfg)

	rolledBack, err := mgr.Down(ctx, steps)
	if err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}

	log.Printf("Rolled back %d migration(s)", rolledBack)
	logVersion(mgr)
}

func logVersion(mgr *storage.MigrationManager) {
	version, err := mgr.Version()
	if errors.Is(err, storage.ErrNoMigration) {
		log.Println("Current version: base schema")
		return
	}
	if err != nil {
		log.Printf("Warning: failed to read version: %v", err)
		return
	}
	log.Printf("Current version: %d", version)
}

func mustOpenStore(cfg *config.Config) storage.MemoryRepository {
	var (
		store storage.MemoryRepository
		err   error
	)
	switch cfg.Database.Engine {
	case "postgres":
		store, err = postgres.NewMemoryStore(cfg.Database.DSN)
	default:
		store, err = sqlite.NewMemoryStore(cfg.Database.Path)
	}
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	return store
}

func mustSnapshotter(cfg *config.Config) *backup.Snapshotter {
	if cfg.Backup.Dir == "" {
		log.Fatal("No backup directory configured (REVERIE_BACKUP_DIR)")
	}

	snapshotter, err := backup.NewSnapshotter(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep)
	if err != nil {
		log.Fatalf("Failed to create snapshotter: %v", err)
	}
	return snapshotter
}

func mustMigrationManager(store storage.MemoryRepository, cfg *config.Config) *storage.MigrationManager {
	if cfg.Database.MigrationsDir == "" {
		log.Fatal("No migrations directory configured (REVERIE_MIGRATIONS_DIR)")
	}

	dbStore, ok := store.(interface{ GetDB() *sql.DB })
	if !ok {
		log.Fatal("Store does not expose a database handle")
	}

	mgr, err := storage.NewMigrationManager(dbStore.GetDB(), cfg.Database.MigrationsDir)
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}
	return mgr
}
