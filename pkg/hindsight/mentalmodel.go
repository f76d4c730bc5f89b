package hindsight

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// CreateMentalModel adds a user-curated question to a bank. Content starts
// empty until the first refresh (explicit or automatic).
func (e *Engine) CreateMentalModel(ctx context.Context, mm MentalModel) (*MentalModel, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if mm.Name == "" || mm.SourceQuery == "" {
		return nil, wrapErr("create_mental_model", ErrInvalidOptions)
	}
	mm.ID = newID()
	mm.CreatedAt = time.Now()

	tagsJSON, _ := json.Marshal(mm.Tags)
	srcJSON, _ := json.Marshal(mm.SourceMemoryIDs)
	_, err := e.store.GetDB().ExecContext(ctx, `
		INSERT INTO hs_mental_models (id, bank_id, name, source_query, content, source_memory_ids, tags, auto_refresh, last_refreshed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		mm.ID, mm.BankID, mm.Name, mm.SourceQuery, mm.Content, string(srcJSON), string(tagsJSON),
		boolToInt(mm.AutoRefresh), mm.CreatedAt.UnixMilli())
	if err != nil {
		return nil, wrapErr("create_mental_model", err)
	}
	return &mm, nil
}

// GetMentalModel looks up a mental model by id.
func (e *Engine) GetMentalModel(ctx context.Context, id string) (*MentalModel, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, bank_id, name, source_query, content, source_memory_ids, tags, auto_refresh, last_refreshed_at, created_at
		FROM hs_mental_models WHERE id = ?`, id)
	mm, err := scanMentalModel(row)
	if err == sql.ErrNoRows {
		return nil, wrapErr("get_mental_model", ErrMemoryNotFound)
	}
	if err != nil {
		return nil, wrapErr("get_mental_model", err)
	}
	return mm, nil
}

// ListMentalModels returns every mental model in a bank.
func (e *Engine) ListMentalModels(ctx context.Context, bankID string) ([]*MentalModel, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, bank_id, name, source_query, content, source_memory_ids, tags, auto_refresh, last_refreshed_at, created_at
		FROM hs_mental_models WHERE bank_id = ? ORDER BY created_at ASC`, bankID)
	if err != nil {
		return nil, wrapErr("list_mental_models", err)
	}
	defer rows.Close()
	var out []*MentalModel
	for rows.Next() {
		mm, err := scanMentalModel(rows)
		if err != nil {
			return nil, wrapErr("list_mental_models", err)
		}
		out = append(out, mm)
	}
	return out, wrapErr("list_mental_models", rows.Err())
}

// RefreshMentalModel re-answers a mental model's source query against the
// bank's current memories via Recall, then synthesizes a fresh answer.
func (e *Engine) RefreshMentalModel(ctx context.Context, id string) (*MentalModel, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.cfg.Synthesize == nil {
		return nil, wrapErr("refresh_mental_model", ErrInvalidOptions)
	}
	mm, err := e.GetMentalModel(ctx, id)
	if err != nil {
		return nil, err
	}

	recalled, err := e.Recall(ctx, mm.BankID, mm.SourceQuery, RecallOptions{TopK: 10})
	if err != nil {
		return nil, wrapErr("refresh_mental_model", err)
	}

	prompt := "Answer the following question using only the provided memories. Be concise.\n\nQuestion: " + mm.SourceQuery + "\n\nMemories:\n"
	var ids []string
	for _, r := range recalled.Results {
		prompt += "- " + r.Memory.Content + "\n"
		ids = append(ids, r.Memory.ID)
	}

	answer, err := synthesizeWithRetry(ctx, e.cfg.Synthesize, prompt)
	if err != nil {
		return nil, wrapErr("refresh_mental_model", err)
	}

	mm.Content = answer
	mm.SourceMemoryIDs = ids
	now := time.Now()
	mm.LastRefreshedAt = &now

	srcJSON, _ := json.Marshal(mm.SourceMemoryIDs)
	_, err = e.store.GetDB().ExecContext(ctx, `
		UPDATE hs_mental_models SET content = ?, source_memory_ids = ?, last_refreshed_at = ? WHERE id = ?`,
		mm.Content, string(srcJSON), now.UnixMilli(), mm.ID)
	if err != nil {
		return nil, wrapErr("refresh_mental_model", err)
	}
	return mm, nil
}

// refreshAutoModels enqueues a refresh_mental_model async op for every
// auto_refresh mental model in a bank whose tags intersect updatedTags, the
// set of tags touched by this consolidation run. It does nothing when
// anyChange is false (nothing was actually created/updated/merged) and
// returns how many refreshes it queued; the actual refresh happens later,
// off the write path, when DrainPendingOperations processes the queue.
func (e *Engine) refreshAutoModels(ctx context.Context, bank *Bank, updatedTags map[string]bool, anyChange bool) int {
	if !anyChange || len(updatedTags) == 0 {
		return 0
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, tags FROM hs_mental_models WHERE bank_id = ? AND auto_refresh = 1`, bank.ID)
	if err != nil {
		return 0
	}
	type candidate struct {
		id   string
		tags []string
	}
	var candidates []candidate
	for rows.Next() {
		var id string
		var tagsJSON sql.NullString
		if rows.Scan(&id, &tagsJSON) != nil {
			continue
		}
		var tags []string
		if tagsJSON.Valid && tagsJSON.String != "" {
			_ = json.Unmarshal([]byte(tagsJSON.String), &tags)
		}
		candidates = append(candidates, candidate{id: id, tags: tags})
	}
	rows.Close()

	queued := 0
	for _, c := range candidates {
		if !tagsIntersectSet(c.tags, updatedTags) {
			continue
		}
		if _, err := e.Enqueue(ctx, bank.ID, TaskRefreshMentalModel, c.id, ""); err != nil {
			e.cfg.Logger.Warn("mental model refresh enqueue failed", "mental_model_id", c.id, "error", err)
			continue
		}
		queued++
	}
	return queued
}

func tagsIntersectSet(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}

func scanMentalModel(row rowScanner) (*MentalModel, error) {
	var mm MentalModel
	var srcJSON, tagsJSON sql.NullString
	var createdMs int64
	var refreshedMs sql.NullInt64
	if err := row.Scan(&mm.ID, &mm.BankID, &mm.Name, &mm.SourceQuery, &mm.Content, &srcJSON, &tagsJSON,
		&mm.AutoRefresh, &refreshedMs, &createdMs); err != nil {
		return nil, err
	}
	mm.CreatedAt = time.UnixMilli(createdMs)
	if refreshedMs.Valid {
		t := time.UnixMilli(refreshedMs.Int64)
		mm.LastRefreshedAt = &t
	}
	if srcJSON.Valid && srcJSON.String != "" {
		_ = json.Unmarshal([]byte(srcJSON.String), &mm.SourceMemoryIDs)
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &mm.Tags)
	}
	return &mm, nil
}
