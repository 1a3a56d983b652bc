// Package sqlite provides a SQLite implementation of the storage interfaces.
// It uses modernc.org/sqlite (pure Go, no cgo) so single-binary deployments
// need no external database.
package sqlite

// Schema is the SQLite schema for the memories subsystem. It is applied on
// every open; all statements are idempotent.
//
// The assets table is a projection owned by the library subsystem; it is
// declared here so the subsystem is self-hosting in tests and single-binary
// deployments. The audits table is only ever written by the delete trigger.
const Schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	type TEXT NOT NULL DEFAULT 'image',
	original_file_name TEXT NOT NULL DEFAULT '',
	file_created_at TIMESTAMP NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'timeline',
	deleted_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	type TEXT NOT NULL,
	data TEXT,
	memory_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	seen_at TIMESTAMP,
	show_at TIMESTAMP,
	hide_at TIMESTAMP,
	is_saved INTEGER NOT NULL DEFAULT 0,
	deleted_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories_assets_assets (
	memories_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	assets_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
	PRIMARY KEY (memories_id, assets_id)
);

CREATE TABLE IF NOT EXISTS audits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for the search and cleanup paths
CREATE INDEX IF NOT EXISTS idx_memories_owner_id ON memories(owner_id);
CREATE INDEX IF NOT EXISTS idx_memories_memory_at ON memories(memory_at);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_deleted_at ON memories(deleted_at);
CREATE INDEX IF NOT EXISTS idx_memories_assets_assets_assets_id ON memories_assets_assets(assets_id);
CREATE INDEX IF NOT EXISTS idx_assets_visibility ON assets(visibility);
CREATE INDEX IF NOT EXISTS idx_assets_file_created_at ON assets(file_created_at);

-- Every hard delete of a memory leaves an audit row.
CREATE TRIGGER IF NOT EXISTS trg_memories_delete_audit
AFTER DELETE ON memories
BEGIN
	INSERT INTO audits (entity_type, entity_id, action, owner_id)
	VALUES ('memory', OLD.id, 'delete', OLD.owner_id);
END;
`
