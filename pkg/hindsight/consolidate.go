package hindsight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// consolidationBatchSize is how many un-consolidated raw memories
// maybeTriggerConsolidation waits for before kicking off a background run.
const consolidationBatchSize = 20

// consolidationDefaultMaxRecallTokens bounds how much existing-observation
// context RunConsolidation hands the model per raw memory when no explicit
// ConsolidationOptions.MaxRecallTokens is given.
const consolidationDefaultMaxRecallTokens = 2000

// gistUpgrade synthesizes a short one-line gist for each memory id that
// doesn't have one yet, bounded to Config.MaxConcurrentGists concurrent
// synthesize calls. Failures are logged and otherwise swallowed: a missing
// gist degrades recall's token budget slightly, it isn't fatal.
func (e *Engine) gistUpgrade(ctx context.Context, bankID string, ids []string) {
	if e.cfg.Synthesize == nil || len(ids) == 0 {
		return
	}

	sem := make(chan struct{}, e.cfg.MaxConcurrentGists)
	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			m, err := e.getMemoryUnit(ctx, id)
			if err != nil || m.Gist != "" {
				return
			}
			prompt := fmt.Sprintf("Summarize this memory in one short sentence (no preamble):\n\n%s", m.Content)
			gist, err := synthesizeWithRetry(ctx, e.cfg.Synthesize, prompt)
			if err != nil {
				e.cfg.Logger.Warn("gist upgrade failed", "memory_id", id, "error", err)
				return
			}
			gist = strings.TrimSpace(gist)
			if gist == "" {
				return
			}
			if _, err := e.store.GetDB().ExecContext(ctx, `UPDATE hs_memories SET gist = ? WHERE id = ?`, gist, id); err != nil {
				e.cfg.Logger.Warn("gist upgrade write failed", "memory_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// maybeTriggerConsolidation checks whether a bank has accumulated enough
// un-consolidated raw memories to warrant a consolidation pass, and runs one
// synchronously (the caller already runs this in the background) if so.
func (e *Engine) maybeTriggerConsolidation(ctx context.Context, bank *Bank) {
	var count int
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hs_memories WHERE bank_id = ? AND fact_type != ? AND consolidated_at IS NULL`,
		bank.ID, ObservationFact)
	if err := row.Scan(&count); err != nil || count < consolidationBatchSize {
		return
	}
	if _, err := e.RunConsolidation(ctx, bank.ID, ConsolidationOptions{}); err != nil {
		e.cfg.Logger.Warn("consolidation run failed", "bank_id", bank.ID, "error", err)
	}
}

// ConsolidationAction is the LLM's proposed disposition for one raw memory,
// parsed leniently from Config.Synthesize's response. TargetIDs is set for
// "update" (exactly one id) and "merge" (two or more ids, oldest wins as the
// canonical row and the rest are deleted).
type ConsolidationAction struct {
	Action          string   `json:"action"` // "create" | "update" | "merge" | "skip"
	ObservationName string   `json:"observationName"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags"`
	TargetIDs       []string `json:"targetIds"` // set for "update"/"merge"
}

type consolidationResponse struct {
	Actions []ConsolidationAction `json:"actions"`
}

// ConsolidationOptions configures a single call to RunConsolidation.
type ConsolidationOptions struct {
	BatchSize       int // raw memories considered per run; 0 uses consolidationBatchSize*4
	MaxRecallTokens int // character budget for related-observation context per memory; 0 uses the default
}

// ConsolidationResult reports what RunConsolidation did.
type ConsolidationResult struct {
	Created                   int
	Updated                   int
	Merged                    int
	Skipped                   int
	MemoriesProcessed         int
	MentalModelsRefreshQueued int
}

// RunConsolidation synthesizes a bank's un-consolidated raw memories into
// higher-order observations. It recalls related existing observations for
// each raw memory (bounded by options.MaxRecallTokens) and folds that context
// into one combined prompt, so Config.Synthesize can ground its proposed
// create/update/merge/skip actions in what is already stored instead of
// guessing at valid update/merge targets. Each action is applied in its own
// transaction, every memory in the batch is then marked consolidated, and
// finally a refresh is enqueued for any auto-refresh mental model whose tags
// intersect an updated observation's tags.
func (e *Engine) RunConsolidation(ctx context.Context, bankID string, options ConsolidationOptions) (*ConsolidationResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.cfg.Synthesize == nil {
		return nil, wrapErr("run_consolidation", ErrInvalidOptions)
	}
	bank, err := e.GetBank(ctx, bankID)
	if err != nil {
		return nil, wrapErr("run_consolidation", err)
	}

	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = consolidationBatchSize * 4
	}
	maxRecallTokens := options.MaxRecallTokens
	if maxRecallTokens <= 0 {
		maxRecallTokens = consolidationDefaultMaxRecallTokens
	}

	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, content FROM hs_memories
		WHERE bank_id = ? AND fact_type != ? AND consolidated_at IS NULL
		ORDER BY event_date ASC LIMIT ?`, bankID, ObservationFact, batchSize)
	if err != nil {
		return nil, wrapErr("run_consolidation", err)
	}
	type raw struct{ id, content string }
	var batch []raw
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.id, &r.content); err != nil {
			rows.Close()
			return nil, wrapErr("run_consolidation", err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr("run_consolidation", err)
	}

	result := &ConsolidationResult{}
	if len(batch) == 0 {
		return result, nil
	}

	var sb strings.Builder
	sb.WriteString("You are consolidating raw memories into durable observations.\n")
	sb.WriteString("For each group of related memories, propose one action: create, update, merge, or skip.\n")
	sb.WriteString("update takes a single targetIds entry; merge takes two or more, the oldest of which survives as the canonical observation.\n")
	sb.WriteString("Respond with JSON: {\"actions\":[{\"action\":...,\"observationName\":...,\"content\":...,\"tags\":[...],\"targetIds\":[...]}]}\n\n")
	for _, r := range batch {
		related, err := e.Recall(ctx, bankID, r.content, RecallOptions{TopK: 5, TokenBudget: maxRecallTokens})
		if err != nil {
			related = &RecallResult{}
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", r.id, r.content)
		for _, hit := range related.Results {
			if hit.Memory.IsObservation() && hit.Memory.ID != r.id {
				fmt.Fprintf(&sb, "    related observation [%s]: %s\n", hit.Memory.ID, hit.Memory.Content)
			}
		}
	}

	resp, err := synthesizeWithRetry(ctx, e.cfg.Synthesize, sb.String())
	if err != nil {
		return nil, wrapErr("run_consolidation", err)
	}

	var parsed consolidationResponse
	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.id
	}
	result.MemoriesProcessed = len(ids)

	if !lenientUnmarshal(resp, &parsed) {
		if err := e.markConsolidated(ctx, ids); err != nil {
			return nil, wrapErr("run_consolidation", err)
		}
		return result, nil
	}

	updatedTags := map[string]bool{}
	anyChange := false

	for _, action := range parsed.Actions {
		tx, err := e.store.GetDB().BeginTx(ctx, nil)
		if err != nil {
			return nil, wrapErr("run_consolidation", err)
		}
		committed := false
		var applyErr error
		func() {
			defer func() {
				if !committed {
					tx.Rollback()
				}
			}()

			switch action.Action {
			case "create":
				if applyErr = e.createObservation(ctx, tx, bank.ID, action, ids); applyErr == nil {
					result.Created++
					anyChange = true
					for _, t := range action.Tags {
						updatedTags[t] = true
					}
				}
			case "update":
				var tags []string
				if tags, applyErr = e.updateObservation(ctx, tx, action, ids); applyErr == nil {
					result.Updated++
					anyChange = true
					for _, t := range tags {
						updatedTags[t] = true
					}
				}
			case "merge":
				var tags []string
				if tags, applyErr = e.mergeObservations(ctx, tx, action, ids); applyErr == nil {
					result.Merged++
					anyChange = true
					for _, t := range tags {
						updatedTags[t] = true
					}
				}
			default:
				result.Skipped++
			}
			if applyErr != nil {
				return
			}
			applyErr = tx.Commit()
		}()
		if applyErr != nil {
			return nil, wrapErr("run_consolidation", applyErr)
		}
		committed = true
	}

	if err := e.markConsolidated(ctx, ids); err != nil {
		return nil, wrapErr("run_consolidation", err)
	}

	result.MentalModelsRefreshQueued = e.refreshAutoModels(ctx, bank, updatedTags, anyChange)
	return result, nil
}

func (e *Engine) createObservation(ctx context.Context, db dbExecutor, bankID string, action ConsolidationAction, sourceIDs []string) error {
	var vector []float32
	if e.cfg.Embed != nil {
		if v, err := e.embed(ctx, action.Content); err == nil {
			vector = v
		}
	}
	m := &MemoryUnit{
		ID:               newID(),
		BankID:           bankID,
		Content:          action.Content,
		FactType:         ObservationFact,
		Confidence:       0.8,
		EventDate:        time.Now().UnixMilli(),
		MentionedAt:      time.Now().UnixMilli(),
		Tags:             action.Tags,
		SourceText:       action.Content,
		EncodingStrength: 1.0,
		Scope:            ScopeProfile,
		ProofCount:       1,
		SourceMemoryIDs:  sourceIDs,
		Vector:           vector,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if err := e.insertMemory(ctx, db, m); err != nil {
		return err
	}
	if vector != nil {
		if err := e.upsertMemoryEmbedding(ctx, m); err != nil {
			e.cfg.Logger.Warn("observation embedding upsert failed", "memory_id", m.ID, "error", err)
		}
	}
	return nil
}

// updateObservation folds sourceIDs into a single existing observation and
// returns its tags (for the auto-refresh-model intersection check).
func (e *Engine) updateObservation(ctx context.Context, db dbExecutor, action ConsolidationAction, sourceIDs []string) ([]string, error) {
	if len(action.TargetIDs) == 0 {
		return nil, nil
	}
	m, err := e.getMemoryUnit(ctx, action.TargetIDs[0])
	if err != nil {
		return nil, nil
	}
	m.History = append(m.History, HistoryEntry{PreviousText: m.Content, Reason: "consolidation_update", At: time.Now()})
	m.Content = action.Content
	m.ProofCount++
	existing := map[string]bool{}
	for _, id := range m.SourceMemoryIDs {
		existing[id] = true
	}
	for _, id := range sourceIDs {
		if !existing[id] {
			m.SourceMemoryIDs = append(m.SourceMemoryIDs, id)
		}
	}
	m.UpdatedAt = time.Now()
	if e.cfg.Embed != nil {
		if v, err := e.embed(ctx, m.Content); err == nil {
			m.Vector = v
		}
	}
	if err := e.updateMemoryContent(ctx, db, m); err != nil {
		return nil, err
	}
	if m.Vector != nil {
		if err := e.upsertMemoryEmbedding(ctx, m); err != nil {
			e.cfg.Logger.Warn("observation embedding upsert failed", "memory_id", m.ID, "error", err)
		}
	}
	return m.Tags, nil
}

// mergeObservations picks the oldest of action.TargetIDs as the canonical
// observation, unions every target's sourceMemoryIds (plus sourceIDs) and
// sums their proofCounts into it, then deletes the rest. Returns the
// canonical observation's tags.
func (e *Engine) mergeObservations(ctx context.Context, db dbExecutor, action ConsolidationAction, sourceIDs []string) ([]string, error) {
	if len(action.TargetIDs) < 2 {
		return e.updateObservation(ctx, db, action, sourceIDs)
	}

	targets := make([]*MemoryUnit, 0, len(action.TargetIDs))
	for _, id := range action.TargetIDs {
		m, err := e.getMemoryUnit(ctx, id)
		if err != nil {
			continue
		}
		targets = append(targets, m)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].CreatedAt.Before(targets[j].CreatedAt) })
	canonical := targets[0]
	losers := targets[1:]

	mergedSourceIDs := map[string]bool{}
	for _, id := range canonical.SourceMemoryIDs {
		mergedSourceIDs[id] = true
	}
	for _, id := range sourceIDs {
		mergedSourceIDs[id] = true
	}
	proofCount := canonical.ProofCount
	for _, loser := range losers {
		for _, id := range loser.SourceMemoryIDs {
			mergedSourceIDs[id] = true
		}
		proofCount += loser.ProofCount
	}

	canonical.History = append(canonical.History, HistoryEntry{PreviousText: canonical.Content, Reason: "consolidation_merge", At: time.Now()})
	canonical.Content = action.Content
	canonical.ProofCount = proofCount
	canonical.SourceMemoryIDs = canonical.SourceMemoryIDs[:0]
	for id := range mergedSourceIDs {
		canonical.SourceMemoryIDs = append(canonical.SourceMemoryIDs, id)
	}
	canonical.UpdatedAt = time.Now()
	if e.cfg.Embed != nil {
		if v, err := e.embed(ctx, canonical.Content); err == nil {
			canonical.Vector = v
		}
	}
	if err := e.updateMemoryContent(ctx, db, canonical); err != nil {
		return nil, err
	}
	if canonical.Vector != nil {
		if err := e.upsertMemoryEmbedding(ctx, canonical); err != nil {
			e.cfg.Logger.Warn("observation embedding upsert failed", "memory_id", canonical.ID, "error", err)
		}
	}

	for _, loser := range losers {
		if err := e.deleteObservationTx(ctx, db, loser.ID); err != nil {
			return nil, err
		}
	}
	return canonical.Tags, nil
}

// deleteObservationTx removes a merged-away observation row and its
// vector-store embedding. The embedding delete is best-effort: a stray
// vector left behind after a merge degrades recall slightly, it isn't fatal.
func (e *Engine) deleteObservationTx(ctx context.Context, db dbExecutor, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM hs_memories WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM hs_memory_entities WHERE memory_id = ?`, id); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM hs_memory_links WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		e.cfg.Logger.Warn("observation embedding delete failed", "memory_id", id, "error", err)
	}
	return nil
}

func (e *Engine) markConsolidated(ctx context.Context, ids []string) error {
	now := time.Now().UnixMilli()
	for _, id := range ids {
		if _, err := e.store.GetDB().ExecContext(ctx, `UPDATE hs_memories SET consolidated_at = ? WHERE id = ?`, now, id); err != nil {
			return err
		}
	}
	return nil
}
