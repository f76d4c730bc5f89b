package hindsight

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/embedded-minds/hindsight/pkg/core"
)

// upsertMemoryEmbedding writes a memory's vector into the shared vector
// collection so Recall's semantic candidate generator (core.Store.Search)
// can find it; hs_memories remains the source of truth for everything else.
func (e *Engine) upsertMemoryEmbedding(ctx context.Context, m *MemoryUnit) error {
	return e.store.Upsert(ctx, &core.Embedding{
		ID:         m.ID,
		Collection: memoryCollection,
		Vector:     m.Vector,
		Content:    m.Content,
		DocID:      m.BankID,
		Metadata: map[string]string{
			"bank_id":   m.BankID,
			"fact_type": string(m.FactType),
		},
	})
}

// getMemoryUnit loads a memory by id, including its vector from the
// embedding collection when present.
func (e *Engine) getMemoryUnit(ctx context.Context, id string) (*MemoryUnit, error) {
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, bank_id, content, fact_type, confidence, document_id, chunk_id,
			event_date, occurred_start, occurred_end, mentioned_at, metadata, tags,
			source_text, access_count, last_accessed, encoding_strength, gist, scope,
			consolidated_at, proof_count, source_memory_ids, history, entities,
			created_at, updated_at
		FROM hs_memories WHERE id = ?`, id)

	m, err := scanMemory(row)
	if err != nil {
		return nil, err
	}

	if emb, err := e.store.GetByID(ctx, id); err == nil && emb != nil {
		m.Vector = emb.Vector
	}
	return m, nil
}

// getMemoryUnitsByIDs loads memories by id in a single query, keyed by id.
// Unlike getMemoryUnit it does not populate Vector: callers that only need
// content/metadata (Recall's hit-building loop) skip the per-id embedding
// round trip this way. Missing ids are simply absent from the result map.
func (e *Engine) getMemoryUnitsByIDs(ctx context.Context, ids []string) (map[string]*MemoryUnit, error) {
	out := make(map[string]*MemoryUnit, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, bank_id, content, fact_type, confidence, document_id, chunk_id,
			event_date, occurred_start, occurred_end, mentioned_at, metadata, tags,
			source_text, access_count, last_accessed, encoding_strength, gist, scope,
			consolidated_at, proof_count, source_memory_ids, history, entities,
			created_at, updated_at
		FROM hs_memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// GetMemory is the exported form of getMemoryUnit.
func (e *Engine) GetMemory(ctx context.Context, id string) (*MemoryUnit, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	m, err := e.getMemoryUnit(ctx, id)
	if err == sql.ErrNoRows {
		return nil, wrapErr("get_memory", ErrMemoryNotFound)
	}
	if err != nil {
		return nil, wrapErr("get_memory", err)
	}
	return m, nil
}

// ListMemories lists a bank's raw memories (ObservationFact excluded),
// newest first, with simple offset pagination.
func (e *Engine) ListMemories(ctx context.Context, bankID string, limit, offset int) ([]*MemoryUnit, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, bank_id, content, fact_type, confidence, document_id, chunk_id,
			event_date, occurred_start, occurred_end, mentioned_at, metadata, tags,
			source_text, access_count, last_accessed, encoding_strength, gist, scope,
			consolidated_at, proof_count, source_memory_ids, history, entities,
			created_at, updated_at
		FROM hs_memories WHERE bank_id = ? AND fact_type != ? ORDER BY event_date DESC LIMIT ? OFFSET ?`,
		bankID, ObservationFact, limit, offset)
	if err != nil {
		return nil, wrapErr("list_memories", err)
	}
	defer rows.Close()

	var out []*MemoryUnit
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, wrapErr("list_memories", err)
		}
		out = append(out, m)
	}
	return out, wrapErr("list_memories", rows.Err())
}

func scanMemory(row rowScanner) (*MemoryUnit, error) {
	var m MemoryUnit
	var metaJSON, tagsJSON, entitiesJSON, historyJSON, sourceMemIDsJSON sql.NullString
	var lastAccessedMs, createdMs, updatedMs int64
	var occurredStart, occurredEnd, consolidatedAt sql.NullInt64

	if err := row.Scan(
		&m.ID, &m.BankID, &m.Content, &m.FactType, &m.Confidence, &m.DocumentID, &m.ChunkID,
		&m.EventDate, &occurredStart, &occurredEnd, &m.MentionedAt, &metaJSON, &tagsJSON,
		&m.SourceText, &m.AccessCount, &lastAccessedMs, &m.EncodingStrength, &m.Gist, &m.Scope,
		&consolidatedAt, &m.ProofCount, &sourceMemIDsJSON, &historyJSON, &entitiesJSON,
		&createdMs, &updatedMs,
	); err != nil {
		return nil, err
	}

	if occurredStart.Valid {
		v := occurredStart.Int64
		m.OccurredStart = &v
	}
	if occurredEnd.Valid {
		v := occurredEnd.Int64
		m.OccurredEnd = &v
	}
	if consolidatedAt.Valid {
		t := time.UnixMilli(consolidatedAt.Int64)
		m.ConsolidatedAt = &t
	}
	m.LastAccessed = time.UnixMilli(lastAccessedMs)
	m.CreatedAt = time.UnixMilli(createdMs)
	m.UpdatedAt = time.UnixMilli(updatedMs)

	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &m.Tags)
	}
	if entitiesJSON.Valid && entitiesJSON.String != "" {
		_ = json.Unmarshal([]byte(entitiesJSON.String), &m.Entities)
	}
	if historyJSON.Valid && historyJSON.String != "" {
		_ = json.Unmarshal([]byte(historyJSON.String), &m.History)
	}
	if sourceMemIDsJSON.Valid && sourceMemIDsJSON.String != "" {
		_ = json.Unmarshal([]byte(sourceMemIDsJSON.String), &m.SourceMemoryIDs)
	}
	return &m, nil
}

func (e *Engine) updateMemoryStats(ctx context.Context, db dbExecutor, m *MemoryUnit) error {
	_, err := db.ExecContext(ctx, `
		UPDATE hs_memories SET access_count = ?, last_accessed = ?, encoding_strength = ? WHERE id = ?`,
		m.AccessCount, m.LastAccessed.UnixMilli(), m.EncodingStrength, m.ID)
	return err
}

// updateMemoryContent persists content/history/proof/source-id changes to
// hs_memories. The vector-store embedding is a secondary index: callers
// re-embed via upsertMemoryEmbedding themselves, typically as a best-effort
// step after the surrounding transaction commits.
func (e *Engine) updateMemoryContent(ctx context.Context, db dbExecutor, m *MemoryUnit) error {
	historyJSON, _ := json.Marshal(m.History)
	sourceMemIDsJSON, _ := json.Marshal(m.SourceMemoryIDs)
	_, err := db.ExecContext(ctx, `
		UPDATE hs_memories SET content = ?, confidence = ?, history = ?, proof_count = ?,
			source_memory_ids = ?, updated_at = ? WHERE id = ?`,
		m.Content, m.Confidence, string(historyJSON), m.ProofCount, string(sourceMemIDsJSON), m.UpdatedAt.UnixMilli(), m.ID)
	return err
}

// touchAccess bumps access bookkeeping for memories surfaced by Recall, in
// a single statement rather than one round trip per hit.
func (e *Engine) touchAccess(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	_, _ = e.store.GetDB().ExecContext(ctx, `
		UPDATE hs_memories SET access_count = access_count + 1, last_accessed = ? WHERE id IN (`+placeholders+`)`, args...)
}
