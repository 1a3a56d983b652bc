// Command reverie-server runs the Reverie memories API server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reveriehq/reverie/internal/backup"
	"github.com/reveriehq/reverie/internal/config"
	"github.com/reveriehq/reverie/internal/maintenance"
	"github.com/reveriehq/reverie/internal/notify"
	"github.com/reveriehq/reverie/internal/server"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/internal/storage/postgres"
	"github.com/reveriehq/reverie/internal/storage/sqlite"
	"github.com/reveriehq/reverie/web/handlers"
)

// dbGetter is implemented by both stores to expose the raw database handle.
type dbGetter interface {
	GetDB() *sql.DB
}

func main() {
	// Load .env if present; the real environment wins over file values
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Apply operator migrations on top of the embedded schema
	if cfg.Database.MigrationsDir != "" {
		if err := applyMigrations(ctx, store, cfg.Database.MigrationsDir); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
	}

	hub := handlers.NewEventHub(allowedOrigins(cfg))
	go hub.Run(ctx)

	// Bridge events written by one-shot maintenance runs into the hub
	var watcher *notify.EventWatcher
	if cfg.Database.Engine == "sqlite" {
		watcher = notify.NewEventWatcher(filepath.Dir(cfg.Database.Path), bridgeEvent(hub))
		if err := watcher.Start(); err != nil {
			log.Printf("Warning: event watcher disabled: %v", err)
			watcher = nil
		}
	}

	sweeper := maintenance.New(store, maintenanceConfig(cfg, hub))
	if cfg.Maintenance.Enabled {
		if err := sweeper.Start(ctx); err != nil {
			log.Fatalf("Failed to start maintenance sweeper: %v", err)
		}
	}

	addr, err := server.Start(ctx, cfg, store, hub, sweeper)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Reverie memories API running at http://%s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	sweeper.Stop()
	if watcher != nil {
		watcher.Stop()
	}
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// bridgeEvent converts a cross-process event file into a hub broadcast.
func bridgeEvent(hub *handlers.EventHub) func(notify.Event) {
	return func(event notify.Event) {
		memEvent := handlers.MemoryEvent{
			Type:      event.Type,
			MemoryID:  event.MemoryID,
			Timestamp: time.Unix(0, event.Time).UTC(),
		}
		if event.DetachedAssets != 0 || event.RemovedMemories != 0 {
			memEvent.Detail = map[string]interface{}{
				"detached_assets":  event.DetachedAssets,
				"removed_memories": event.RemovedMemories,
			}
		}
		hub.Broadcast(memEvent)
	}
}

// openStore picks the storage backend from the configured engine.
func openStore(cfg *config.Config) (storage.MemoryRepository, error) {
	switch cfg.Database.Engine {
	case "postgres":
		return postgres.NewMemoryStore(cfg.Database.DSN)
	default:
		return sqlite.NewMemoryStore(cfg.Database.Path)
	}
}

func applyMigrations(ctx context.Context, store storage.MemoryRepository, dir string) error {
	dbStore, ok := store.(dbGetter)
	if !ok {
		return fmt.Errorf("store does not expose a database handle")
	}

	mgr, err := storage.NewMigrationManager(dbStore.GetDB(), dir)
	if err != nil {
		return err
	}

	applied, err := mgr.Up(ctx)
	if err != nil {
		return err
	}
	if applied > 0 {
		log.Printf("Applied %d migration(s) from %s", applied, dir)
	}
	return nil
}

// maintenanceConfig assembles the sweeper configuration: interval from the
// config, cleanup events over the hub, and snapshots when the SQLite engine
// has a backup dir set.
func maintenanceConfig(cfg *config.Config, hub *handlers.EventHub) maintenance.Config {
	mc := maintenance.Config{
		Interval: cfg.CleanupInterval(),
		Notifier: handlers.NewCleanupNotifier(hub),
	}

	if cfg.Database.Engine == "sqlite" && cfg.Backup.Dir != "" {
		snapshotter, err := backup.NewSnapshotter(cfg.Database.Path, cfg.Backup.Dir, cfg.Backup.Keep)
		if err != nil {
			log.Printf("Warning: snapshots disabled: %v", err)
		} else {
			mc.Snapshots = snapshotter
		}
	}
	return mc
}

// allowedOrigins returns the websocket origins accepted by the hub.
func allowedOrigins(cfg *config.Config) []string {
	return []string{
		fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
	}
}
