// Package postgres provides a PostgreSQL implementation of the storage
// interfaces.
package postgres

// Schema contains the SQL statements to create the memories subsystem schema
// for PostgreSQL. Applied on every store construction; all statements are
// idempotent.
const Schema = `
-- Assets table: projection owned by the library subsystem, declared here so
-- the subsystem is self-hosting in tests and single-binary deployments.
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'image',
    original_file_name TEXT NOT NULL DEFAULT '',
    file_created_at TIMESTAMP NOT NULL,
    visibility TEXT NOT NULL DEFAULT 'timeline',
    deleted_at TIMESTAMP
);

-- Memories table: generated collections resurfaced to their owner.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    type TEXT NOT NULL,
    data JSONB,
    memory_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    seen_at TIMESTAMP,
    show_at TIMESTAMP,
    hide_at TIMESTAMP,
    is_saved BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at TIMESTAMP
);

-- Join table tying memories to the assets they resurface.
CREATE TABLE IF NOT EXISTS memories_assets_assets (
    memories_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    assets_id TEXT NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
    PRIMARY KEY (memories_id, assets_id)
);

-- Audit table: written only by the delete trigger below.
CREATE TABLE IF NOT EXISTS audits (
    id SERIAL PRIMARY KEY,
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
CREATE OR REPLACE FUNCTION memories_delete_audit()
RETURNS TRIGGER AS $$
BEGIN
    INSERT INTO audits (entity_type, entity_id, action, owner_id)
    VALUES ('memory', OLD.id, 'delete', OLD.owner_id);
    RETURN OLD;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_memories_delete_audit ON memories;
CREATE TRIGGER trg_memories_delete_audit
    AFTER DELETE ON memories
    FOR EACH ROW
    EXECUTE FUNCTION memories_delete_audit();
`
