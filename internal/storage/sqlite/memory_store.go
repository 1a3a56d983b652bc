package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/reveriehq/reverie/internal/batch"
	"github.com/reveriehq/reverie/internal/storage"
	"github.com/reveriehq/reverie/pkg/types"
)

// MemoryStore implements storage.MemoryRepository using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens a SQLite database, configures WAL mode, and applies
// the schema. Pass ":memory:" for an ephemeral store.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of returning an immediate SQLITE_BUSY when the
	// connection is held by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// The join table relies on ON DELETE CASCADE.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// RunMigrations applies all pending database migrations from the given
// directory on top of the embedded schema. Returns how many were applied.
func (s *MemoryStore) RunMigrations(ctx context.Context, migrationsDir string) (int, error) {
	mgr, err := storage.NewMigrationManager(s.db, migrationsDir)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}

	applied, err := mgr.Up(ctx)
	if err != nil {
		return applied, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return applied, nil
}

// GetDB exposes the underlying database handle. Used by snapshot backups
// and tests that need to seed the assets table.
func (s *MemoryStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// memoryColumns is the canonical projection shared by every memory read.
const memoryColumns = "id, owner_id, type, data, memory_at, created_at, updated_at, seen_at, show_at, hide_at, is_saved, deleted_at"

// searchConditions builds the WHERE clause shared by Search and Statistics
// so the two always agree on which rows match.
func searchConditions(ownerID string, filter storage.MemoryFilter) (string, []interface{}) {
	conditions := []string{"owner_id = ?"}
	args := []interface{}{ownerID}

	if filter.IsSaved != nil {
		conditions = append(conditions, "is_saved = ?")
		args = append(args, *filter.IsSaved)
	}

	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(filter.Type))
	}

	// A missing window bound never excludes a row.
	if filter.For != nil {
		at := filter.For.UTC()
		conditions = append(conditions, "(show_at IS NULL OR show_at <= ?)")
		args = append(args, at)
		conditions = append(conditions, "(hide_at IS NULL OR hide_at >= ?)")
		args = append(args, at)
	}

	if filter.IsTrashed {
		conditions = append(conditions, "deleted_at IS NOT NULL")
	} else {
		conditions = append(conditions, "deleted_at IS NULL")
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}

// The query builders below are pure functions so tests can capture the
// generated SQL as golden fixtures without executing anything.

func statisticsQuery(ownerID string, filter storage.MemoryFilter) (string, []interface{}) {
	where, args := searchConditions(ownerID, filter)
	return "SELECT COUNT(*) FROM memories" + where, args
}

func searchQuery(ownerID string, filter storage.MemoryFilter) (string, []interface{}) {
	where, args := searchConditions(ownerID, filter)
	return "SELECT " + memoryColumns + " FROM memories" + where + " ORDER BY memory_at DESC", args
}

// getByIDQuery is the canonical single-row shape shared by Get and the
// re-fetches in Create and Update.
const getByIDQuery = "SELECT " + memoryColumns + " FROM memories WHERE id = ? AND deleted_at IS NULL"

func assetsForMemoriesQuery(n int) string {
	return "SELECT ma.memories_id, a.id, a.owner_id, a.type, a.original_file_name, a.file_created_at, a.visibility" +
		" FROM memories_assets_assets ma JOIN assets a ON a.id = ma.assets_id" +
		" WHERE ma.memories_id IN (" + placeholders(n) + ")" +
		" AND a.visibility = 'timeline' AND a.deleted_at IS NULL" +
		" ORDER BY a.file_created_at ASC"
}

func membershipQuery(n int) string {
	return "SELECT assets_id FROM memories_assets_assets WHERE memories_id = ? AND assets_id IN (" + placeholders(n) + ")"
}

func insertLinksQuery(n int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO memories_assets_assets (memories_id, assets_id) VALUES ")
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?)")
	}
	return sb.String()
}

func removeLinksQuery(n int) string {
	return "DELETE FROM memories_assets_assets WHERE memories_id = ? AND assets_id IN (" + placeholders(n) + ")"
}

const (
	detachHiddenAssetsQuery  = "DELETE FROM memories_assets_assets WHERE assets_id IN (SELECT id FROM assets WHERE visibility <> 'timeline')"
	removeStaleMemoriesQuery = "DELETE FROM memories WHERE created_at < ? AND is_saved = 0"
)

// Statistics counts the owner's memories matching the filter.
func (s *MemoryStore) Statistics(ctx context.Context, ownerID string, filter storage.MemoryFilter) (int, error) {
	if ownerID == "" {
		return 0, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	query, args := statisticsQuery(ownerID, filter)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}

	return count, nil
}

// Search returns the owner's memories matching the filter, newest memory_at
// first, each with its nested assets.
func (s *MemoryStore) Search(ctx context.Context, ownerID string, filter storage.MemoryFilter) ([]types.Memory, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	query, args := searchQuery(ownerID, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	memories := []types.Memory{}
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, *memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	if err := s.attachAssets(ctx, memories); err != nil {
		return nil, err
	}

	return memories, nil
}

// Get retrieves a live memory by ID with its nested assets. Absence is a
// normal outcome for this lookup: it returns (nil, nil).
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	return s.getByID(ctx, id)
}

// Create inserts the memory and its initial asset membership in one
// transaction, then returns the materialized row re-fetched by ID.
func (s *MemoryStore) Create(ctx context.Context, memory *types.Memory, assetIDs []string) (*types.Memory, error) {
	if memory == nil {
		return nil, storage.ErrInvalidInput
	}
	if memory.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	if memory.Type == "" {
		return nil, fmt.Errorf("%w: memory type is required", storage.ErrInvalidInput)
	}

	id := memory.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	createdAt := memory.CreatedAt.UTC()
	if memory.CreatedAt.IsZero() {
		createdAt = now
	}

	dataJSON, err := json.Marshal(memory.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal memory data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, owner_id, type, data, memory_at, created_at, updated_at, seen_at, show_at, hide_at, is_saved, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		memory.OwnerID,
		string(memory.Type),
		string(dataJSON),
		memory.MemoryAt.UTC(),
		createdAt,
		now,
		nullableTime(memory.SeenAt),
		nullableTime(memory.ShowAt),
		nullableTime(memory.HideAt),
		memory.IsSaved,
		nullableTime(memory.DeletedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}

	if err := insertAssetLinks(ctx, tx, id, assetIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit memory: %w", err)
	}

	created, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("memory %s not found after create", id)
	}

	return created, nil
}

// Update applies a partial patch and returns the memory re-fetched by ID.
// Returns storage.ErrNotFound when the memory does not exist or is deleted.
func (s *MemoryStore) Update(ctx context.Context, id string, patch storage.MemoryUpdate) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if patch.MemoryAt != nil {
		sets = append(sets, "memory_at = ?")
		args = append(args, patch.MemoryAt.UTC())
	}
	if patch.SeenAt != nil {
		sets = append(sets, "seen_at = ?")
		args = append(args, patch.SeenAt.UTC())
	}
	if patch.ShowAt != nil {
		sets = append(sets, "show_at = ?")
		args = append(args, patch.ShowAt.UTC())
	}
	if patch.HideAt != nil {
		sets = append(sets, "hide_at = ?")
		args = append(args, patch.HideAt.UTC())
	}
	if patch.IsSaved != nil {
		sets = append(sets, "is_saved = ?")
		args = append(args, *patch.IsSaved)
	}
	if patch.Data != nil {
		dataJSON, err := json.Marshal(patch.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal memory data: %w", err)
		}
		sets = append(sets, "data = ?")
		args = append(args, string(dataJSON))
	}

	args = append(args, id)
	query := "UPDATE memories SET " + strings.Join(sets, ", ") + " WHERE id = ? AND deleted_at IS NULL"

	// Zero rows affected is not itself an error; the re-fetch decides.
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}

	updated, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, storage.ErrNotFound
	}

	return updated, nil
}

// Delete hard-deletes a memory. The join rows go with it via ON DELETE
// CASCADE, and the audit trigger records the removal. Deleting a missing
// ID is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}

	return nil
}

// GetAssetIDs returns which of the candidate asset IDs are members of the
// memory. Candidates are probed in batches; an empty candidate set returns
// an empty set without touching the database.
func (s *MemoryStore) GetAssetIDs(ctx context.Context, id string, assetIDs []string) (map[string]struct{}, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	return batch.Union(assetIDs, batch.DefaultSize, func(chunk []string) (map[string]struct{}, error) {
		query := membershipQuery(len(chunk))

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, id)
		for _, assetID := range chunk {
			args = append(args, assetID)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query asset membership: %w", err)
		}
		defer rows.Close()

		members := make(map[string]struct{}, len(chunk))
		for rows.Next() {
			var assetID string
			if err := rows.Scan(&assetID); err != nil {
				return nil, fmt.Errorf("failed to scan asset ID: %w", err)
			}
			members[assetID] = struct{}{}
		}
		return members, rows.Err()
	})
}

// AddAssetIDs inserts one join row per asset ID in one transaction. Empty
// input is a no-op. Duplicates violate the primary key and surface as a
// driver error; callers pre-filter with GetAssetIDs.
func (s *MemoryStore) AddAssetIDs(ctx context.Context, id string, assetIDs []string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if len(assetIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAssetLinks(ctx, tx, id, assetIDs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit asset links: %w", err)
	}

	return nil
}

// RemoveAssetIDs deletes the join rows for the given asset IDs in batches.
// Empty input is a no-op.
func (s *MemoryStore) RemoveAssetIDs(ctx context.Context, id string, assetIDs []string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	return batch.Each(assetIDs, batch.DefaultSize, func(chunk []string) error {
		query := removeLinksQuery(len(chunk))

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, id)
		for _, assetID := range chunk {
			args = append(args, assetID)
		}

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to remove asset links: %w", err)
		}
		return nil
	})
}

// Cleanup detaches assets that are no longer timeline-visible, then removes
// unsaved memories older than the retention period. Both steps are plain
// deletes, so an immediate re-run removes nothing.
func (s *MemoryStore) Cleanup(ctx context.Context) (storage.CleanupResult, error) {
	var result storage.CleanupResult

	res, err := s.db.ExecContext(ctx, detachHiddenAssetsQuery)
	if err != nil {
		return result, fmt.Errorf("failed to detach hidden assets: %w", err)
	}
	detached, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to count detached assets: %w", err)
	}
	result.DetachedAssets = detached

	cutoff := time.Now().UTC().Add(-storage.RetentionPeriod)
	res, err = s.db.ExecContext(ctx, removeStaleMemoriesQuery, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to remove stale memories: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to count removed memories: %w", err)
	}
	result.RemovedMemories = removed

	return result, nil
}

// getByID is the canonical single-row read: the live row by ID with nested
// assets. Absence returns (nil, nil); callers decide whether that is fatal.
func (s *MemoryStore) getByID(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, getByIDQuery, id)

	memory, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}

	memories := []types.Memory{*memory}
	if err := s.attachAssets(ctx, memories); err != nil {
		return nil, err
	}

	return &memories[0], nil
}

// attachAssets loads the timeline-visible, non-deleted assets of every given
// memory and groups them in place, ordered by capture time.
func (s *MemoryStore) attachAssets(ctx context.Context, memories []types.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	ids := make([]string, len(memories))
	byID := make(map[string]*types.Memory, len(memories))
	for i := range memories {
		memories[i].Assets = []types.Asset{}
		ids[i] = memories[i].ID
		byID[memories[i].ID] = &memories[i]
	}

	return batch.Each(ids, batch.DefaultSize, func(chunk []string) error {
		query := assetsForMemoriesQuery(len(chunk))

		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to load memory assets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var memoryID string
			var asset types.Asset
			if err := rows.Scan(&memoryID, &asset.ID, &asset.OwnerID, &asset.Type, &asset.OriginalFileName, &asset.FileCreatedAt, &asset.Visibility); err != nil {
				return fmt.Errorf("failed to scan asset: %w", err)
			}
			if memory, ok := byID[memoryID]; ok {
				memory.Assets = append(memory.Assets, asset)
			}
		}
		return rows.Err()
	})
}

// insertAssetLinks bulk-inserts join rows in batches small enough for the
// driver's bind-parameter limit, inside the caller's transaction.
func insertAssetLinks(ctx context.Context, tx *sql.Tx, memoryID string, assetIDs []string) error {
	return batch.Each(assetIDs, batch.DefaultSize, func(chunk []string) error {
		query := insertLinksQuery(len(chunk))

		args := make([]interface{}, 0, len(chunk)*2)
		for _, assetID := range chunk {
			args = append(args, memoryID, assetID)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to link assets: %w", err)
		}
		return nil
	})
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory reads one row of the canonical memory projection.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var dataJSON sql.NullString
	var seenAt, showAt, hideAt, deletedAt sql.NullTime

	err := row.Scan(
		&memory.ID,
		&memory.OwnerID,
		&memory.Type,
		&dataJSON,
		&memory.MemoryAt,
		&memory.CreatedAt,
		&memory.UpdatedAt,
		&seenAt,
		&showAt,
		&hideAt,
		&memory.IsSaved,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &memory.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory data: %w", err)
		}
	}

	if seenAt.Valid {
		t := seenAt.Time
		memory.SeenAt = &t
	}
	if showAt.Valid {
		t := showAt.Time
		memory.ShowAt = &t
	}
	if hideAt.Valid {
		t := hideAt.Time
		memory.HideAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		memory.DeletedAt = &t
	}

	memory.Assets = []types.Asset{}
	return &memory, nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// nullableTime converts a time pointer to sql.NullTime, normalised to UTC.
func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
