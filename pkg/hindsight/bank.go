package hindsight

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// CreateBank creates a new bank. Name must be non-empty; all other fields
// take the engine's defaults when zero.
func (e *Engine) CreateBank(ctx context.Context, b Bank) (*Bank, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if b.Name == "" {
		return nil, wrapErr("create_bank", ErrInvalidOptions)
	}
	if b.ID == "" {
		b.ID = newID()
	}
	if !b.Disposition.Valid() {
		if b.Disposition == (Disposition{}) {
			b.Disposition = DefaultDisposition()
		} else {
			return nil, wrapErr("create_bank", ErrInvalidOptions)
		}
	}
	b.Config = mergeBankConfig(b.Config, e.cfg.Defaults)

	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	cfgJSON, err := json.Marshal(b.Config)
	if err != nil {
		return nil, wrapErr("create_bank", err)
	}
	dispJSON, err := json.Marshal(b.Disposition)
	if err != nil {
		return nil, wrapErr("create_bank", err)
	}

	_, err = e.store.GetDB().ExecContext(ctx, `
		INSERT INTO hs_banks (id, name, description, mission, config, disposition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, b.Mission, string(cfgJSON), string(dispJSON),
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, wrapErr("create_bank", err)
	}

	e.bankCache.Add(b.ID, &b)
	return &b, nil
}

// GetBank looks up a bank by id, checking the in-process cache first.
func (e *Engine) GetBank(ctx context.Context, id string) (*Bank, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if v, ok := e.bankCache.Get(id); ok {
		return v, nil
	}

	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, name, description, mission, config, disposition, created_at, updated_at
		FROM hs_banks WHERE id = ?`, id)

	b, err := scanBank(row)
	if err == sql.ErrNoRows {
		return nil, wrapErr("get_bank", ErrBankNotFound)
	}
	if err != nil {
		return nil, wrapErr("get_bank", err)
	}
	e.bankCache.Add(id, b)
	return b, nil
}

// ListBanks returns every bank, oldest first.
func (e *Engine) ListBanks(ctx context.Context) ([]*Bank, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, name, description, mission, config, disposition, created_at, updated_at
		FROM hs_banks ORDER BY created_at ASC`)
	if err != nil {
		return nil, wrapErr("list_banks", err)
	}
	defer rows.Close()

	var out []*Bank
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, wrapErr("list_banks", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBank persists changes to mutable bank fields (name, description,
// mission, config, disposition) and invalidates the cache entry.
func (e *Engine) UpdateBank(ctx context.Context, b Bank) (*Bank, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if !b.Disposition.Valid() {
		return nil, wrapErr("update_bank", ErrInvalidOptions)
	}
	b.Config = mergeBankConfig(b.Config, e.cfg.Defaults)
	b.UpdatedAt = time.Now()

	cfgJSON, err := json.Marshal(b.Config)
	if err != nil {
		return nil, wrapErr("update_bank", err)
	}
	dispJSON, err := json.Marshal(b.Disposition)
	if err != nil {
		return nil, wrapErr("update_bank", err)
	}

	res, err := e.store.GetDB().ExecContext(ctx, `
		UPDATE hs_banks SET name = ?, description = ?, mission = ?, config = ?, disposition = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, b.Description, b.Mission, string(cfgJSON), string(dispJSON), b.UpdatedAt.UnixMilli(), b.ID)
	if err != nil {
		return nil, wrapErr("update_bank", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, wrapErr("update_bank", ErrBankNotFound)
	}

	e.bankCache.Remove(b.ID)
	return e.GetBank(ctx, b.ID)
}

// DeleteBank removes a bank and every record scoped to it.
func (e *Engine) DeleteBank(ctx context.Context, id string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	tx, err := e.store.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("delete_bank", err)
	}
	defer tx.Rollback()

	// Tables keyed indirectly (via document/memory/episode id) must be
	// cleared before the tables they join against.
	joined := []string{
		"DELETE FROM hs_chunks WHERE document_id IN (SELECT id FROM hs_documents WHERE bank_id = ?)",
		"DELETE FROM hs_memory_entities WHERE memory_id IN (SELECT id FROM hs_memories WHERE bank_id = ?)",
		"DELETE FROM hs_episode_events WHERE episode_id IN (SELECT id FROM hs_episodes WHERE bank_id = ?)",
		"DELETE FROM hs_episode_temporal_links WHERE from_episode IN (SELECT id FROM hs_episodes WHERE bank_id = ?) OR to_episode IN (SELECT id FROM hs_episodes WHERE bank_id = ?)",
	}
	for _, q := range joined {
		args := []any{id}
		if strings.Count(q, "?") == 2 {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return wrapErr("delete_bank", err)
		}
	}

	tables := []string{
		"hs_memory_links", "hs_routing_decisions",
		"hs_episodes", "hs_mental_models", "hs_directives",
		"hs_async_operations", "hs_entity_cooccurrences", "hs_entities",
		"hs_documents", "hs_memories", "hs_banks",
	}
	for _, t := range tables {
		col := "bank_id"
		if t == "hs_banks" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t+" WHERE "+col+" = ?", id); err != nil {
			return wrapErr("delete_bank", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("delete_bank", err)
	}
	e.bankCache.Remove(id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBank(row rowScanner) (*Bank, error) {
	var b Bank
	var cfgJSON, dispJSON string
	var createdMs, updatedMs int64
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Mission, &cfgJSON, &dispJSON, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &b.Config); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dispJSON), &b.Disposition); err != nil {
		return nil, err
	}
	b.CreatedAt = time.UnixMilli(createdMs)
	b.UpdatedAt = time.UnixMilli(updatedMs)
	return &b, nil
}

// mergeBankConfig fills zero-valued fields of c from defaults.
func mergeBankConfig(c, defaults BankConfig) BankConfig {
	if c.ExtractionMode == "" {
		c.ExtractionMode = defaults.ExtractionMode
	}
	if c.ReflectBudget == "" {
		c.ReflectBudget = defaults.ReflectBudget
	}
	if c.ReinforceThreshold == 0 {
		c.ReinforceThreshold = defaults.ReinforceThreshold
	}
	if c.ReconsolidateThreshold == 0 {
		c.ReconsolidateThreshold = defaults.ReconsolidateThreshold
	}
	if c.TemporalWindowMs == 0 {
		c.TemporalWindowMs = defaults.TemporalWindowMs
	}
	if c.EpisodeGapMs == 0 {
		c.EpisodeGapMs = defaults.EpisodeGapMs
	}
	if len(c.EpisodeBoundaryPhrases) == 0 {
		c.EpisodeBoundaryPhrases = defaults.EpisodeBoundaryPhrases
	}
	return c
}

func (e *Engine) consolidationEnabled(b *Bank) bool {
	if b.Config.EnableConsolidation != nil {
		return *b.Config.EnableConsolidation
	}
	return e.cfg.EnableConsolidation
}
