package hindsight

import (
	"context"
	"encoding/json"
)

// ListTags returns the distinct tags used across a bank's memories.
func (e *Engine) ListTags(ctx context.Context, bankID string) ([]string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `SELECT tags FROM hs_memories WHERE bank_id = ? AND tags IS NOT NULL`, bankID)
	if err != nil {
		return nil, wrapErr("list_tags", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr("list_tags", err)
		}
		var tags []string
		if raw == "" || json.Unmarshal([]byte(raw), &tags) != nil {
			continue
		}
		for _, t := range tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out, wrapErr("list_tags", rows.Err())
}

// ListEpisodes returns a bank's episodes for a scope, most recently touched first.
func (e *Engine) ListEpisodes(ctx context.Context, bankID string, scope Scope, limit int) ([]*Episode, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, bank_id, scope, start_at, end_at, last_event_at, event_count, boundary_reason
		FROM hs_episodes WHERE bank_id = ? AND scope = ? ORDER BY last_event_at DESC LIMIT ?`,
		bankID, scope, limit)
	if err != nil {
		return nil, wrapErr("list_episodes", err)
	}
	defer rows.Close()

	var out []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, wrapErr("list_episodes", err)
		}
		out = append(out, ep)
	}
	return out, wrapErr("list_episodes", rows.Err())
}

// BankStats summarizes a bank's size, used by CLI/status surfaces.
type BankStats struct {
	MemoryCount      int64
	ObservationCount int64
	EntityCount      int64
	EpisodeCount     int64
	PendingOps       int64
}

// Stats computes a bank's BankStats.
func (e *Engine) Stats(ctx context.Context, bankID string) (*BankStats, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	var s BankStats
	db := e.store.GetDB()

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_memories WHERE bank_id = ? AND fact_type != ?`, bankID, ObservationFact).Scan(&s.MemoryCount); err != nil {
		return nil, wrapErr("stats", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_memories WHERE bank_id = ? AND fact_type = ?`, bankID, ObservationFact).Scan(&s.ObservationCount); err != nil {
		return nil, wrapErr("stats", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_entities WHERE bank_id = ?`, bankID).Scan(&s.EntityCount); err != nil {
		return nil, wrapErr("stats", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_episodes WHERE bank_id = ?`, bankID).Scan(&s.EpisodeCount); err != nil {
		return nil, wrapErr("stats", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_async_operations WHERE bank_id = ? AND status = ?`, bankID, OpPending).Scan(&s.PendingOps); err != nil {
		return nil, wrapErr("stats", err)
	}
	return &s, nil
}
