package hindsight

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/embedded-minds/hindsight/pkg/core"
)

// rrfK is the Reciprocal Rank Fusion constant; higher values flatten the
// influence of rank position, lower values sharpen it. 60 is RRF's
// conventional default.
const rrfK = 60.0

// Recall's default weighted-combine coefficients, summing to 1.
const (
	weightRRF      = 0.45
	weightRerank   = 0.30
	weightTemporal = 0.15
	weightRecency  = 0.10
)

// RecallOptions configures a single call to Recall.
type RecallOptions struct {
	TopK            int
	Scope           Scope    // optional filter
	IncludeTags     []string // optional filter, any match
	GraphSeeds      []string // optional explicit seed memory ids for traversal
	TokenBudget     int      // approximate character budget for returned content, 0 = unbounded
}

// RecallHit is one scored, fused result.
type RecallHit struct {
	Memory        *MemoryUnit
	RRFScore      float64
	RerankScore   float64
	TemporalScore float64
	RecencyScore  float64
	FinalScore    float64
}

// RecallResult is Recall's return value.
type RecallResult struct {
	Results   []RecallHit
	Truncated bool // true when TokenBudget cut off lower-ranked results
}

// Recall is the read path: it generates candidates four ways (semantic
// vector search, full-text search, graph traversal from seed memories, and a
// temporal recency window), fuses them with Reciprocal Rank Fusion, optionally
// reranks the fused set, then combines RRF/rerank/temporal/recency into a
// final score. Observations (consolidated facts) and raw memories are both
// eligible; callers that want only one tier should filter MentionedAt/
// IsObservation on the result.
func (e *Engine) Recall(ctx context.Context, bankID, query string, opts RecallOptions) (*RecallResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	runID := newID()
	emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunStarted, RunID: runID})
	defer emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunFinished, RunID: runID})

	rankLists := make([][]string, 0, 4)

	if e.cfg.Embed != nil && query != "" {
		if ids, err := e.semanticCandidates(ctx, bankID, query, opts.TopK*4); err == nil {
			rankLists = append(rankLists, ids)
		}
	}
	if query != "" {
		if ids, err := e.fulltextCandidates(ctx, bankID, query, opts.TopK*4); err == nil {
			rankLists = append(rankLists, ids)
		}
	}
	if seeds := e.graphSeeds(opts, rankLists); len(seeds) > 0 {
		if ids, err := e.graphCandidates(ctx, seeds, opts.TopK*4); err == nil {
			rankLists = append(rankLists, ids)
		}
	}
	if ids, err := e.temporalCandidates(ctx, bankID, opts.TopK*4); err == nil {
		rankLists = append(rankLists, ids)
	}

	fused := reciprocalRankFusion(rankLists)
	if len(fused) == 0 {
		return &RecallResult{}, nil
	}

	candidateIDs := make([]string, 0, len(fused))
	for id := range fused {
		candidateIDs = append(candidateIDs, id)
	}
	sort.Slice(candidateIDs, func(i, j int) bool { return fused[candidateIDs[i]] > fused[candidateIDs[j]] })
	if len(candidateIDs) > opts.TopK*3 {
		candidateIDs = candidateIDs[:opts.TopK*3]
	}

	byID, err := e.getMemoryUnitsByIDs(ctx, candidateIDs)
	if err != nil {
		return nil, wrapErr("recall", err)
	}

	hits := make([]RecallHit, 0, len(candidateIDs))
	now := time.Now()
	for _, id := range candidateIDs {
		m, ok := byID[id]
		if !ok {
			continue
		}
		if opts.Scope != "" && m.Scope != opts.Scope {
			continue
		}
		if len(opts.IncludeTags) > 0 && !anyTagMatches(m.Tags, opts.IncludeTags) {
			continue
		}
		hits = append(hits, RecallHit{
			Memory:        m,
			RRFScore:      fused[id],
			TemporalScore: temporalScore(m, now),
			RecencyScore:  recencyScore(m, now),
		})
	}

	if e.cfg.Rerank != nil && query != "" {
		candidates := make([]RerankCandidate, len(hits))
		for i, h := range hits {
			candidates[i] = RerankCandidate{MemoryID: h.Memory.ID, Content: h.Memory.Content, Score: h.RRFScore}
		}
		reranked, err := e.cfg.Rerank(ctx, query, candidates)
		if err == nil {
			scoreByID := make(map[string]float64, len(reranked))
			for _, rc := range reranked {
				scoreByID[rc.MemoryID] = rc.Score
			}
			for i := range hits {
				hits[i].RerankScore = scoreByID[hits[i].Memory.ID]
			}
		}
	}

	maxRRF := maxScore(fused)
	for i := range hits {
		normRRF := 0.0
		if maxRRF > 0 {
			normRRF = hits[i].RRFScore / maxRRF
		}
		hits[i].FinalScore = weightRRF*normRRF + weightRerank*hits[i].RerankScore +
			weightTemporal*hits[i].TemporalScore + weightRecency*hits[i].RecencyScore
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].FinalScore > hits[j].FinalScore })
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}

	result := &RecallResult{Results: hits}
	if opts.TokenBudget > 0 {
		result.Results, result.Truncated = applyTokenBudget(hits, opts.TokenBudget)
	}

	ids := make([]string, len(result.Results))
	for i, h := range result.Results {
		ids[i] = h.Memory.ID
	}
	e.touchAccess(ctx, ids)

	return result, nil
}

func (e *Engine) semanticCandidates(ctx context.Context, bankID, query string, limit int) ([]string, error) {
	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := e.store.Search(ctx, vec, core.SearchOptions{
		Collection: memoryCollection,
		TopK:       limit,
		Filter:     map[string]string{"bank_id": bankID},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
	}
	return ids, nil
}

func (e *Engine) fulltextCandidates(ctx context.Context, bankID, query string, limit int) ([]string, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT m.id FROM hs_memory_fts f
		JOIN hs_memories m ON m.rowid = f.rowid
		WHERE f.hs_memory_fts MATCH ? AND m.bank_id = ?
		ORDER BY rank LIMIT ?`, ftsQuery, bankID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sanitizeFTSQuery turns free text into an FTS5 MATCH query: each word
// becomes a prefix term ORed together, and FTS5 special characters are
// stripped so a stray quote or colon in the query text doesn't throw a
// syntax error.
func sanitizeFTSQuery(q string) string {
	fields := strings.FieldsFunc(q, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	for i, f := range fields {
		fields[i] = f + "*"
	}
	return strings.Join(fields, " OR ")
}

func (e *Engine) graphSeeds(opts RecallOptions, rankLists [][]string) []string {
	if len(opts.GraphSeeds) > 0 {
		return opts.GraphSeeds
	}
	if len(rankLists) > 0 && len(rankLists[0]) > 0 {
		n := 3
		if len(rankLists[0]) < n {
			n = len(rankLists[0])
		}
		return rankLists[0][:n]
	}
	return nil
}

func (e *Engine) graphCandidates(ctx context.Context, seeds []string, limit int) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, seed := range seeds {
		ids, err := e.linkedMemoryIDs(ctx, seed, 2)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (e *Engine) temporalCandidates(ctx context.Context, bankID string, limit int) ([]string, error) {
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id FROM hs_memories WHERE bank_id = ? ORDER BY event_date DESC LIMIT ?`, bankID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// reciprocalRankFusion combines N ranked id lists into a single score map
// using the standard RRF formula sum(1 / (k + rank)).
func reciprocalRankFusion(lists [][]string) map[string]float64 {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / (rrfK + float64(rank+1))
		}
	}
	return scores
}

func maxScore(scores map[string]float64) float64 {
	max := 0.0
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	return max
}

// temporalScore rewards memories whose event_date is close to now, decaying
// over a 30-day half-life.
func temporalScore(m *MemoryUnit, now time.Time) float64 {
	age := now.Sub(time.UnixMilli(m.EventDate))
	if age < 0 {
		age = 0
	}
	halfLife := 30 * 24 * time.Hour
	return math.Exp2(-float64(age) / float64(halfLife))
}

// recencyScore rewards memories accessed recently, independent of their
// event time, on a 7-day half-life — this is what lets a stale-but-popular
// memory keep surfacing.
func recencyScore(m *MemoryUnit, now time.Time) float64 {
	if m.LastAccessed.IsZero() {
		return 0
	}
	age := now.Sub(m.LastAccessed)
	if age < 0 {
		age = 0
	}
	halfLife := 7 * 24 * time.Hour
	return math.Exp2(-float64(age) / float64(halfLife))
}

func anyTagMatches(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = true
	}
	for _, w := range want {
		if set[strings.ToLower(w)] {
			return true
		}
	}
	return false
}

// applyTokenBudget keeps hits, highest score first, until the running
// character count of their content would exceed budget.
func applyTokenBudget(hits []RecallHit, budget int) ([]RecallHit, bool) {
	var out []RecallHit
	total := 0
	for _, h := range hits {
		total += len(h.Memory.Content)
		if total > budget && len(out) > 0 {
			return out, true
		}
		out = append(out, h)
	}
	return out, false
}
