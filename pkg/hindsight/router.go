package hindsight

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/embedded-minds/hindsight/pkg/core"
)

// routeCandidate is a prior memory considered as a reinforce/reconsolidate
// target for a new fact.
type routeCandidate struct {
	memory *MemoryUnit
	score  float64
}

// route classifies a freshly extracted fact against the bank's recent
// memories: near-duplicates reinforce an existing trace, moderately similar
// ones reconsolidate (content replaced, history kept), and everything else
// starts a new trace. Classification only looks within the bank's temporal
// proximity window so an old, topically similar memory from months ago
// doesn't silently absorb an unrelated new one.
func (e *Engine) route(ctx context.Context, bank *Bank, fact ExtractedFact, vector []float32, eventDate int64) (Route, *MemoryUnit, float64, error) {
	windowMs := bank.Config.TemporalWindowMs
	since := eventDate - windowMs
	if since < 0 {
		since = 0
	}

	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id FROM hs_memories
		WHERE bank_id = ? AND fact_type != ? AND event_date >= ? AND event_date <= ?
		ORDER BY event_date DESC LIMIT 200`,
		bank.ID, ObservationFact, since, eventDate+windowMs)
	if err != nil {
		return RouteNewTrace, nil, 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return RouteNewTrace, nil, 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return RouteNewTrace, nil, 0, err
	}

	var best *routeCandidate
	for _, id := range ids {
		m, err := e.getMemoryUnit(ctx, id)
		if err != nil || len(m.Vector) == 0 {
			continue
		}
		score := core.CosineSimilarity(vector, m.Vector)
		if best == nil || score > best.score {
			best = &routeCandidate{memory: m, score: score}
		}
	}

	if best == nil {
		return RouteNewTrace, nil, 0, nil
	}
	if best.score >= bank.Config.ReinforceThreshold {
		return RouteReinforce, best.memory, best.score, nil
	}
	if best.score >= bank.Config.ReconsolidateThreshold {
		return RouteReconsolidate, best.memory, best.score, nil
	}
	return RouteNewTrace, nil, best.score, nil
}

// logRoutingDecision persists a RoutingDecision row for replay/debugging,
// independent of whether the decision mutated an existing memory.
func (e *Engine) logRoutingDecision(ctx context.Context, db dbExecutor, bankID string, route Route, candidateID string, score *float64, conflict bool, conflictKeys []string) error {
	keysJSON, _ := json.Marshal(conflictKeys)
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_routing_decisions (id, bank_id, route, candidate_memory_id, candidate_score, conflict_detected, conflict_keys, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), bankID, route, candidateID, score, boolToInt(conflict), string(keysJSON), time.Now().UnixMilli())
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// detectConflict reports whether a reconsolidate target's content
// contradicts the incoming fact on a simple signal: both mention the same
// entity set but the new content's polarity markers disagree with the old
// one's. This is intentionally coarse; true contradiction detection is a
// prompted LLM concern and belongs in Config.Extract, not the router.
func detectConflict(oldContent, newContent string) (bool, []string) {
	oldNeg, newNeg := containsNegation(oldContent), containsNegation(newContent)
	if oldNeg != newNeg {
		return true, []string{"negation_mismatch"}
	}
	return false, nil
}

func containsNegation(s string) bool {
	markers := []string{" not ", " no longer ", " never ", "n't "}
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
