package hindsight

import (
	"context"
	"database/sql"
	"fmt"
)

// createSchema adds the domain tables on top of the storage kernel's own
// connection (core.Store already created collections/embeddings/FTS via its
// own Init). All hindsight-specific tables are namespaced hs_ and are
// additive: nothing here touches the kernel's own schema.
func createSchema(ctx context.Context, db *sql.DB) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS hs_banks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		mission TEXT,
		config TEXT NOT NULL,
		disposition TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hs_memories (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		content TEXT NOT NULL,
		fact_type TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		document_id TEXT,
		chunk_id TEXT,
		event_date INTEGER NOT NULL DEFAULT 0,
		occurred_start INTEGER,
		occurred_end INTEGER,
		mentioned_at INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		tags TEXT,
		source_text TEXT,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed INTEGER NOT NULL DEFAULT 0,
		encoding_strength REAL NOT NULL DEFAULT 1,
		gist TEXT,
		scope TEXT NOT NULL DEFAULT 'session',
		consolidated_at INTEGER,
		proof_count INTEGER NOT NULL DEFAULT 0,
		source_memory_ids TEXT,
		history TEXT,
		entities TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_memories_bank ON hs_memories(bank_id);
	CREATE INDEX IF NOT EXISTS idx_hs_memories_bank_consolidated ON hs_memories(bank_id, consolidated_at, fact_type);
	CREATE INDEX IF NOT EXISTS idx_hs_memories_bank_event ON hs_memories(bank_id, event_date);
	CREATE INDEX IF NOT EXISTS idx_hs_memories_doc ON hs_memories(document_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS hs_memory_fts USING fts5(
		content, bank_id UNINDEXED, content='hs_memories', content_rowid='rowid'
	);
	CREATE TRIGGER IF NOT EXISTS hs_memories_ai AFTER INSERT ON hs_memories BEGIN
		INSERT INTO hs_memory_fts(rowid, content, bank_id) VALUES (new.rowid, new.content, new.bank_id);
	END;
	CREATE TRIGGER IF NOT EXISTS hs_memories_ad AFTER DELETE ON hs_memories BEGIN
		INSERT INTO hs_memory_fts(hs_memory_fts, rowid, content, bank_id) VALUES('delete', old.rowid, old.content, old.bank_id);
	END;
	CREATE TRIGGER IF NOT EXISTS hs_memories_au AFTER UPDATE ON hs_memories BEGIN
		INSERT INTO hs_memory_fts(hs_memory_fts, rowid, content, bank_id) VALUES('delete', old.rowid, old.content, old.bank_id);
		INSERT INTO hs_memory_fts(rowid, content, bank_id) VALUES (new.rowid, new.content, new.bank_id);
	END;

	CREATE TABLE IF NOT EXISTS hs_entities (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		mention_count INTEGER NOT NULL DEFAULT 0,
		first_seen INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		description TEXT,
		metadata TEXT,
		UNIQUE(bank_id, name, entity_type)
	);
	CREATE INDEX IF NOT EXISTS idx_hs_entities_bank ON hs_entities(bank_id);

	CREATE TABLE IF NOT EXISTS hs_memory_entities (
		memory_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		PRIMARY KEY (memory_id, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_hs_memory_entities_entity ON hs_memory_entities(entity_id);

	CREATE TABLE IF NOT EXISTS hs_entity_cooccurrences (
		bank_id TEXT NOT NULL,
		entity_a TEXT NOT NULL,
		entity_b TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (bank_id, entity_a, entity_b)
	);

	CREATE TABLE IF NOT EXISTS hs_memory_links (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		link_type TEXT NOT NULL,
		weight REAL NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(bank_id, source_id, target_id, link_type)
	);
	CREATE INDEX IF NOT EXISTS idx_hs_links_source ON hs_memory_links(source_id);
	CREATE INDEX IF NOT EXISTS idx_hs_links_target ON hs_memory_links(target_id);

	CREATE TABLE IF NOT EXISTS hs_routing_decisions (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		route TEXT NOT NULL,
		candidate_memory_id TEXT,
		candidate_score REAL,
		conflict_detected INTEGER NOT NULL DEFAULT 0,
		conflict_keys TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_routing_bank ON hs_routing_decisions(bank_id, created_at);

	CREATE TABLE IF NOT EXISTS hs_episodes (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER,
		last_event_at INTEGER NOT NULL,
		event_count INTEGER NOT NULL DEFAULT 0,
		boundary_reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_episodes_bank_last ON hs_episodes(bank_id, last_event_at DESC, id);

	CREATE TABLE IF NOT EXISTS hs_episode_events (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		route TEXT NOT NULL,
		event_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_episode_events_episode ON hs_episode_events(episode_id, event_time);

	CREATE TABLE IF NOT EXISTS hs_episode_temporal_links (
		id TEXT PRIMARY KEY,
		from_episode TEXT NOT NULL,
		to_episode TEXT NOT NULL,
		gap_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_episode_links_from ON hs_episode_temporal_links(from_episode);
	CREATE INDEX IF NOT EXISTS idx_hs_episode_links_to ON hs_episode_temporal_links(to_episode);

	CREATE TABLE IF NOT EXISTS hs_documents (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		title TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hs_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		content TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_chunks_document ON hs_chunks(document_id);

	CREATE TABLE IF NOT EXISTS hs_mental_models (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		name TEXT NOT NULL,
		source_query TEXT NOT NULL,
		content TEXT,
		source_memory_ids TEXT,
		tags TEXT,
		auto_refresh INTEGER NOT NULL DEFAULT 0,
		last_refreshed_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_mental_models_bank ON hs_mental_models(bank_id);

	CREATE TABLE IF NOT EXISTS hs_directives (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		tags TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_hs_directives_bank ON hs_directives(bank_id, priority DESC);

	CREATE TABLE IF NOT EXISTS hs_async_operations (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL,
		task_type TEXT NOT NULL,
		status TEXT NOT NULL,
		payload_key TEXT NOT NULL,
		payload TEXT,
		items_count INTEGER NOT NULL DEFAULT 0,
		document_id TEXT,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_hs_async_ops_dedup ON hs_async_operations(bank_id, payload_key, status);
	CREATE INDEX IF NOT EXISTS idx_hs_async_ops_status ON hs_async_operations(bank_id, status, created_at);
	`

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create hindsight schema: %w", err)
	}
	return nil
}
