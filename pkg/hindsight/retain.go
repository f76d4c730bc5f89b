package hindsight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RetainOptions configures a single call to Retain.
type RetainOptions struct {
	Scope      Scope
	DocumentID string // optional; set when sourceText is a chunk of a larger document
	ChunkID    string
	EventDate  *time.Time // explicit event time; defaults to time.Now()
	Metadata   map[string]string
	Tags       []string // merged (deduped) into every extracted fact's own tags
}

// RetainResult reports what a Retain call did.
type RetainResult struct {
	Memories []*MemoryUnit
	Episode  *Episode
	Routes   []Route
}

// retainPlan is the read-only outcome of embedding and routing one extracted
// fact, computed before the persist transaction opens so a slow embedder or
// a routing lookup never holds a write transaction open.
type retainPlan struct {
	idx       int
	fact      ExtractedFact
	content   string
	vector    []float32
	route     Route
	candidate *MemoryUnit
	score     float64
}

// retainPersisted is one memory that made it through the persist transaction,
// carrying what the post-commit steps (embedding upsert, graph mirror,
// episode assignment) need.
type retainPersisted struct {
	m     *MemoryUnit
	route Route
	edges []linkEdge
}

// Retain is the write path: it sanitizes and extracts facts from sourceText,
// embeds and routes each one (reinforce an existing trace, reconsolidate it,
// or start a new one), persists the whole batch of facts in one transaction,
// then — outside that transaction — assigns each memory to an episode,
// mirrors its links into the graph substrate, and for banks with
// consolidation enabled fires a background gist-upgrade and
// consolidation-trigger check. It does not block on any of that background
// work; callers that need it finished should call RunConsolidation directly.
func (e *Engine) Retain(ctx context.Context, bankID, sourceText string, opts RetainOptions) (*RetainResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	runID := newID()
	emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunStarted, RunID: runID})
	defer emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunFinished, RunID: runID})

	bank, err := e.GetBank(ctx, bankID)
	if err != nil {
		return nil, wrapErr("retain", err)
	}

	sourceText = sanitizeText(sourceText)
	if sourceText == "" {
		return nil, wrapErr("retain", ErrInvalidOptions)
	}
	if opts.Scope == "" {
		opts.Scope = ScopeSession
	}
	eventDate := time.Now()
	if opts.EventDate != nil {
		eventDate = *opts.EventDate
	}

	if e.cfg.Extract == nil {
		return nil, wrapErr("retain", ErrInvalidOptions)
	}
	emit(e.cfg.OnTrace, StreamEvent{Kind: EventStepStarted, RunID: runID, StepName: "extract"})
	extracted, err := e.cfg.Extract(ctx, bank, sourceText)
	emit(e.cfg.OnTrace, StreamEvent{Kind: EventStepFinished, RunID: runID, StepName: "extract"})
	if err != nil {
		emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunError, RunID: runID, Err: err})
		return nil, wrapErr("retain", err)
	}
	if len(extracted.Facts) == 0 {
		return &RetainResult{}, nil
	}

	// Embed and route every fact first: both can call out to the caller's
	// collaborators and neither writes anything, so neither belongs inside
	// the persist transaction below.
	var plans []retainPlan
	for idx, fact := range extracted.Facts {
		content := sanitizeText(fact.Content)
		if content == "" {
			continue
		}

		var vector []float32
		if e.cfg.Embed != nil {
			v, err := e.embed(ctx, content)
			if err != nil {
				// Degrade gracefully: a fact that can't be embedded still gets
				// stored, just always routed as a new trace and excluded from
				// semantic recall until a later pass re-embeds it.
				vector = nil
			} else {
				vector = v
			}
		}

		route, candidate, score := RouteNewTrace, (*MemoryUnit)(nil), 0.0
		if vector != nil {
			route, candidate, score, err = e.route(ctx, bank, fact, vector, eventDate.UnixMilli())
			if err != nil {
				route, candidate = RouteNewTrace, nil
			}
		}
		plans = append(plans, retainPlan{idx: idx, fact: fact, content: content, vector: vector, route: route, candidate: candidate, score: score})
	}
	if len(plans) == 0 {
		return &RetainResult{}, nil
	}

	tx, err := e.store.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("retain", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	newTraceByIndex := map[int]*MemoryUnit{}
	var persistedItems []retainPersisted

	for _, p := range plans {
		var scorePtr *float64
		if p.score != 0 {
			scorePtr = &p.score
		}

		entityIDs, err := e.resolveFactEntities(ctx, tx, bank.ID, p.fact.Entities, extracted.Entities)
		if err != nil {
			return nil, wrapErr("retain", err)
		}

		var m *MemoryUnit
		reconsolidatedFrom := ""

		switch p.route {
		case RouteReinforce:
			candidate := p.candidate
			candidate.AccessCount++
			candidate.EncodingStrength = minFloat(candidate.EncodingStrength+0.05, 1.0)
			candidate.LastAccessed = time.Now()
			if err := e.updateMemoryStats(ctx, tx, candidate); err != nil {
				return nil, wrapErr("retain", err)
			}
			m = candidate

		case RouteReconsolidate:
			candidate := p.candidate
			conflict, conflictKeys := detectConflict(candidate.Content, p.content)
			candidate.History = append(candidate.History, HistoryEntry{
				PreviousText: candidate.Content,
				Reason:       "reconsolidate",
				At:           time.Now(),
			})
			candidate.Content = p.content
			candidate.Confidence = p.fact.Confidence
			candidate.Vector = p.vector
			candidate.UpdatedAt = time.Now()
			if err := e.updateMemoryContent(ctx, tx, candidate); err != nil {
				return nil, wrapErr("retain", err)
			}
			m = candidate
			reconsolidatedFrom = candidate.ID
			if err := e.logRoutingDecision(ctx, tx, bank.ID, p.route, candidate.ID, scorePtr, conflict, conflictKeys); err != nil {
				return nil, wrapErr("retain", err)
			}

		default:
			m = &MemoryUnit{
				ID:               newID(),
				BankID:           bank.ID,
				Content:          p.content,
				FactType:         p.fact.FactType,
				Confidence:       p.fact.Confidence,
				DocumentID:       opts.DocumentID,
				ChunkID:          opts.ChunkID,
				EventDate:        eventDate.UnixMilli(),
				OccurredStart:    p.fact.OccurredStart,
				OccurredEnd:      p.fact.OccurredEnd,
				MentionedAt:      time.Now().UnixMilli(),
				Metadata:         opts.Metadata,
				Tags:             mergeTags(p.fact.Tags, opts.Tags),
				SourceText:       sourceText,
				EncodingStrength: 1.0,
				Scope:            opts.Scope,
				Entities:         p.fact.Entities,
				Vector:           p.vector,
				CreatedAt:        time.Now(),
				UpdatedAt:        time.Now(),
			}
			if err := e.insertMemory(ctx, tx, m); err != nil {
				return nil, wrapErr("retain", err)
			}
			newTraceByIndex[p.idx] = m
		}

		if err := e.attachEntities(ctx, tx, m.ID, entityIDs); err != nil {
			return nil, wrapErr("retain", err)
		}
		for i := 0; i < len(entityIDs); i++ {
			for j := i + 1; j < len(entityIDs); j++ {
				_ = e.recordCooccurrence(ctx, tx, bank.ID, entityIDs[i], entityIDs[j])
			}
		}

		edges, err := e.buildLinks(ctx, tx, bank, m, entityIDs, reconsolidatedFrom, backwardCausalRelations(p.fact.CausalRelations, p.idx), newTraceByIndex)
		if err != nil {
			return nil, wrapErr("retain", err)
		}

		if p.route != RouteReconsolidate {
			// Reconsolidate already logged its decision above, with real
			// conflict-detection data attached.
			if err := e.logRoutingDecision(ctx, tx, bank.ID, p.route, candidateID(p.candidate), scorePtr, false, nil); err != nil {
				return nil, wrapErr("retain", err)
			}
		}

		persistedItems = append(persistedItems, retainPersisted{m: m, route: p.route, edges: edges})
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("retain", err)
	}
	committed = true

	result := &RetainResult{}
	var lastEpisode *Episode
	db := e.store.GetDB()
	for _, item := range persistedItems {
		if item.m.Vector != nil {
			if err := e.upsertMemoryEmbedding(ctx, item.m); err != nil {
				e.cfg.Logger.Warn("embedding upsert failed", "memory_id", item.m.ID, "error", err)
			}
		}
		e.mirrorLinksToGraph(ctx, item.m, item.edges)

		ep, err := e.assignEpisode(ctx, db, bank, item.m, sourceText)
		if err != nil {
			return nil, wrapErr("retain", err)
		}
		if err := e.recordEpisodeEvent(ctx, db, ep.ID, item.m.ID, item.route, eventDate); err != nil {
			return nil, wrapErr("retain", err)
		}
		lastEpisode = ep

		result.Memories = append(result.Memories, item.m)
		result.Routes = append(result.Routes, item.route)
	}
	result.Episode = lastEpisode

	if e.consolidationEnabled(bank) && len(result.Memories) > 0 {
		ids := make([]string, len(result.Memories))
		for i, m := range result.Memories {
			ids[i] = m.ID
		}
		e.background(func() {
			bgCtx := context.Background()
			e.gistUpgrade(bgCtx, bank.ID, ids)
			e.maybeTriggerConsolidation(bgCtx, bank)
		})
	}

	return result, nil
}

// retainMaxExtractionChars bounds how much source text RetainBatch hands to
// a single extraction call; longer items are split at paragraph boundaries.
const retainMaxExtractionChars = 600_000

// RetainBatchItem is one input to RetainBatch. Zero-valued fields fall back
// to RetainBatch's shared RetainOptions.
type RetainBatchItem struct {
	SourceText string
	DocumentID string
	ChunkID    string
	EventDate  *time.Time
	Metadata   map[string]string
	Scope      Scope
	Tags       []string
}

// RetainItemResult is one RetainBatch item's outcome: either a merged
// RetainResult across all of that item's chunks, or the error from whichever
// chunk failed first.
type RetainItemResult struct {
	Result *RetainResult
	Err    error
}

// RetainBatchResult holds one RetainItemResult per input item, in order.
type RetainBatchResult struct {
	Items []RetainItemResult
}

// RetainBatch retains several source texts in one call. Each item's own
// scope/documentID/eventDate/metadata/tags are merged against the shared
// opts (item wins when set); oversize content is exploded into
// paragraph-bounded chunks, each retained in turn, with the per-chunk
// results merged back into a single RetainItemResult per input item.
func (e *Engine) RetainBatch(ctx context.Context, bankID string, items []RetainBatchItem, opts RetainOptions) (*RetainBatchResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	out := &RetainBatchResult{Items: make([]RetainItemResult, len(items))}

	for i, item := range items {
		itemOpts := RetainOptions{
			Scope:      item.Scope,
			DocumentID: item.DocumentID,
			ChunkID:    item.ChunkID,
			EventDate:  item.EventDate,
			Metadata:   item.Metadata,
			Tags:       mergeTags(item.Tags, opts.Tags),
		}
		if itemOpts.Scope == "" {
			itemOpts.Scope = opts.Scope
		}
		if itemOpts.DocumentID == "" {
			itemOpts.DocumentID = opts.DocumentID
		}
		if itemOpts.EventDate == nil {
			itemOpts.EventDate = opts.EventDate
		}
		if itemOpts.Metadata == nil {
			itemOpts.Metadata = opts.Metadata
		}

		chunks := chunkText(item.SourceText, retainMaxExtractionChars)
		merged := &RetainResult{}
		var itemErr error
		for ci, chunk := range chunks {
			chunkOpts := itemOpts
			if len(chunks) > 1 {
				chunkOpts.ChunkID = fmt.Sprintf("%s#%d", itemOpts.ChunkID, ci)
			}
			res, err := e.Retain(ctx, bankID, chunk, chunkOpts)
			if err != nil {
				itemErr = err
				break
			}
			merged.Memories = append(merged.Memories, res.Memories...)
			merged.Routes = append(merged.Routes, res.Routes...)
			merged.Episode = res.Episode
		}
		if itemErr != nil {
			out.Items[i] = RetainItemResult{Err: itemErr}
		} else {
			out.Items[i] = RetainItemResult{Result: merged}
		}
	}
	return out, nil
}

// chunkText splits s into pieces of at most maxChars, preferring to break at
// a paragraph boundary, then a line boundary, then a hard cut.
func chunkText(s string, maxChars int) []string {
	if maxChars <= 0 || len(s) <= maxChars {
		return []string{s}
	}
	var chunks []string
	for len(s) > maxChars {
		head := s[:maxChars]
		cut := strings.LastIndex(head, "\n\n")
		if cut > 0 {
			cut += 2
		} else if nl := strings.LastIndex(head, "\n"); nl > 0 {
			cut = nl + 1
		} else {
			cut = maxChars
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

// mergeTags unions two tag lists, preserving first-seen order and dropping
// blanks and duplicates.
func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range a {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range b {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// backwardCausalRelations keeps only the causal relations that point at an
// earlier fact in the same extraction batch; forward and self references
// are never honored.
func backwardCausalRelations(rels []CausalRelation, idx int) []CausalRelation {
	var out []CausalRelation
	for _, r := range rels {
		if r.TargetIndex >= 0 && r.TargetIndex < idx {
			out = append(out, r)
		}
	}
	return out
}

func candidateID(m *MemoryUnit) string {
	if m == nil {
		return ""
	}
	return m.ID
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// resolveFactEntities resolves every entity name mentioned by a fact (or,
// failing that, noticed anywhere in the extraction) into stable entity ids.
func (e *Engine) resolveFactEntities(ctx context.Context, db dbExecutor, bankID string, factEntities, allEntities []string) ([]string, error) {
	names := factEntities
	if len(names) == 0 {
		names = allEntities
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		ent, err := e.resolveEntity(ctx, db, bankID, name, "", names)
		if err != nil {
			return nil, err
		}
		ids = append(ids, ent.ID)
	}
	return ids, nil
}

func (e *Engine) attachEntities(ctx context.Context, db dbExecutor, memoryID string, entityIDs []string) error {
	for _, id := range entityIDs {
		if _, err := db.ExecContext(ctx, `
			INSERT OR IGNORE INTO hs_memory_entities (memory_id, entity_id) VALUES (?, ?)`, memoryID, id); err != nil {
			return err
		}
	}
	return nil
}

// insertMemory writes a memory row. The vector-store embedding is a
// secondary index: callers upsert it themselves, typically as a best-effort
// step once the surrounding transaction commits.
func (e *Engine) insertMemory(ctx context.Context, db dbExecutor, m *MemoryUnit) error {
	metaJSON, _ := json.Marshal(m.Metadata)
	tagsJSON, _ := json.Marshal(m.Tags)
	entitiesJSON, _ := json.Marshal(m.Entities)
	historyJSON, _ := json.Marshal(m.History)
	sourceMemIDsJSON, _ := json.Marshal(m.SourceMemoryIDs)

	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_memories (
			id, bank_id, content, fact_type, confidence, document_id, chunk_id,
			event_date, occurred_start, occurred_end, mentioned_at, metadata, tags,
			source_text, access_count, last_accessed, encoding_strength, gist, scope,
			consolidated_at, proof_count, source_memory_ids, history, entities,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.BankID, m.Content, m.FactType, m.Confidence, m.DocumentID, m.ChunkID,
		m.EventDate, m.OccurredStart, m.OccurredEnd, m.MentionedAt, string(metaJSON), string(tagsJSON),
		m.SourceText, m.AccessCount, m.LastAccessed.UnixMilli(), m.EncodingStrength, m.Gist, m.Scope,
		nullableTime(m.ConsolidatedAt), m.ProofCount, string(sourceMemIDsJSON), string(historyJSON), string(entitiesJSON),
		m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli())
	return err
}

func nullableTime(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
