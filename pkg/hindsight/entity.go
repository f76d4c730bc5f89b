package hindsight

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// entityAcceptThreshold is the minimum resolver score for two mentions to be
// treated as the same entity.
const entityAcceptThreshold = 0.82

// entityRunnerUpMargin is the minimum gap between the best and second-best
// candidate score required to accept the best one outright; within the
// margin the match is ambiguous and a new entity is created instead.
const entityRunnerUpMargin = 0.05

// resolveEntity finds or creates the Entity for a mention, scoring existing
// bank entities by name similarity with a context and recency boost. When
// scoring lands in the ambiguous zone (below threshold, or within the
// runner-up margin of another candidate), an exact case-insensitive
// (name, entityType) lookup catches the remaining duplicates before a new
// entity is created — the resolver's last line of defense against an aged or
// context-free mention spawning a second row for the same thing.
func (e *Engine) resolveEntity(ctx context.Context, db dbExecutor, bankID, name string, entityType EntityType, contextEntities []string) (*Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, wrapErr("resolve_entity", ErrInvalidOptions)
	}

	candidates, err := e.listEntitiesByBank(ctx, bankID)
	if err != nil {
		return nil, wrapErr("resolve_entity", err)
	}

	var best *Entity
	var bestScore, runnerUpScore float64
	for _, c := range candidates {
		score := entityScore(name, entityType, contextEntities, c)
		if score > bestScore {
			runnerUpScore = bestScore
			best, bestScore = c, score
		} else if score > runnerUpScore {
			runnerUpScore = score
		}
	}

	if best != nil && bestScore >= entityAcceptThreshold && (bestScore-runnerUpScore) >= entityRunnerUpMargin {
		best.MentionCount++
		best.LastUpdated = time.Now()
		if err := e.touchEntity(ctx, db, best); err != nil {
			return nil, wrapErr("resolve_entity", err)
		}
		e.entityCache.Remove(bankID)
		return best, nil
	}

	if exact, err := e.findEntityExact(ctx, db, bankID, name, entityType); err != nil {
		return nil, wrapErr("resolve_entity", err)
	} else if exact != nil {
		exact.MentionCount++
		exact.LastUpdated = time.Now()
		if err := e.touchEntity(ctx, db, exact); err != nil {
			return nil, wrapErr("resolve_entity", err)
		}
		e.entityCache.Remove(bankID)
		return exact, nil
	}

	ent := &Entity{
		ID:           newID(),
		BankID:       bankID,
		Name:         name,
		EntityType:   entityType,
		MentionCount: 1,
		FirstSeen:    time.Now(),
		LastUpdated:  time.Now(),
	}
	if err := e.insertEntity(ctx, db, ent); err != nil {
		return nil, wrapErr("resolve_entity", err)
	}
	e.entityCache.Remove(bankID)
	return ent, nil
}

// findEntityExact looks up a single entity by exact case-insensitive name and
// type match, the resolver's fallback once scoring rejects every candidate.
func (e *Engine) findEntityExact(ctx context.Context, db dbExecutor, bankID, name string, entityType EntityType) (*Entity, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, bank_id, name, entity_type, mention_count, first_seen, last_updated, description, metadata
		FROM hs_entities WHERE bank_id = ? AND lower(name) = lower(?) AND entity_type = ?`,
		bankID, name, entityType)
	ent, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ent, nil
}

// entityScore combines normalized edit-distance name similarity with a
// context-overlap boost (other entities co-mentioned alongside this one) and
// a recency boost (entities updated more recently are slightly favored when
// names are ambiguous).
func entityScore(name string, entityType EntityType, contextEntities []string, c *Entity) float64 {
	nameSim := tokenSetLevenshteinSimilarity(name, c.Name)
	if entityType != "" && c.EntityType != "" && entityType != c.EntityType {
		nameSim *= 0.5
	}

	contextBoost := 0.0
	if len(contextEntities) > 0 {
		for _, ce := range contextEntities {
			if strings.EqualFold(ce, c.Name) {
				contextBoost = 0.1
				break
			}
		}
	}

	recencyBoost := 0.0
	age := time.Since(c.LastUpdated)
	if age < 24*time.Hour {
		recencyBoost = 0.05
	} else if age < 7*24*time.Hour {
		recencyBoost = 0.02
	}

	score := 0.85*nameSim + contextBoost + recencyBoost
	if score > 1 {
		score = 1
	}
	return score
}

// tokenSetLevenshteinSimilarity scores two names by taking the better of a
// whole-string edit distance and a token-set (order-independent) comparison,
// so "J. Smith" and "Smith, J." score similarly to an exact match.
func tokenSetLevenshteinSimilarity(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	whole := editSimilarity(a, b)

	aTokens, bTokens := strings.Fields(a), strings.Fields(b)
	sort.Strings(aTokens)
	sort.Strings(bTokens)
	tokenSet := editSimilarity(strings.Join(aTokens, " "), strings.Join(bTokens, " "))

	if tokenSet > whole {
		return tokenSet
	}
	return whole
}

func editSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/maxLen
}

func (e *Engine) listEntitiesByBank(ctx context.Context, bankID string) ([]*Entity, error) {
	if v, ok := e.entityCache.Get(bankID); ok {
		return v, nil
	}
	rows, err := e.store.GetDB().QueryContext(ctx, `
		SELECT id, bank_id, name, entity_type, mention_count, first_seen, last_updated, description, metadata
		FROM hs_entities WHERE bank_id = ?`, bankID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	e.entityCache.Add(bankID, out)
	return out, nil
}

// GetEntity looks up a single entity by id.
func (e *Engine) GetEntity(ctx context.Context, id string) (*Entity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, bank_id, name, entity_type, mention_count, first_seen, last_updated, description, metadata
		FROM hs_entities WHERE id = ?`, id)
	ent, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, wrapErr("get_entity", ErrEntityNotFound)
	}
	if err != nil {
		return nil, wrapErr("get_entity", err)
	}
	return ent, nil
}

// ListEntities returns every entity in a bank.
func (e *Engine) ListEntities(ctx context.Context, bankID string) ([]*Entity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.listEntitiesByBank(ctx, bankID)
}

func scanEntity(row rowScanner) (*Entity, error) {
	var ent Entity
	var firstMs, lastMs int64
	var metaJSON sql.NullString
	if err := row.Scan(&ent.ID, &ent.BankID, &ent.Name, &ent.EntityType, &ent.MentionCount,
		&firstMs, &lastMs, &ent.Description, &metaJSON); err != nil {
		return nil, err
	}
	ent.FirstSeen = time.UnixMilli(firstMs)
	ent.LastUpdated = time.UnixMilli(lastMs)
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &ent.Metadata)
	}
	return &ent, nil
}

func (e *Engine) insertEntity(ctx context.Context, db dbExecutor, ent *Entity) error {
	metaJSON, _ := json.Marshal(ent.Metadata)
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_entities (id, bank_id, name, entity_type, mention_count, first_seen, last_updated, description, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ent.ID, ent.BankID, ent.Name, ent.EntityType, ent.MentionCount,
		ent.FirstSeen.UnixMilli(), ent.LastUpdated.UnixMilli(), ent.Description, string(metaJSON))
	return err
}

func (e *Engine) touchEntity(ctx context.Context, db dbExecutor, ent *Entity) error {
	_, err := db.ExecContext(ctx, `
		UPDATE hs_entities SET mention_count = ?, last_updated = ? WHERE id = ?`,
		ent.MentionCount, ent.LastUpdated.UnixMilli(), ent.ID)
	return err
}

// recordCooccurrence increments the undirected pair count for two entities
// mentioned in the same memory, storing EntityA as the lexicographically
// smaller id so (a,b) and (b,a) collapse to one row.
func (e *Engine) recordCooccurrence(ctx context.Context, db dbExecutor, bankID, idA, idB string) error {
	if idA == idB {
		return nil
	}
	if idB < idA {
		idA, idB = idB, idA
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_entity_cooccurrences (bank_id, entity_a, entity_b, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(bank_id, entity_a, entity_b) DO UPDATE SET count = count + 1`,
		bankID, idA, idB)
	return err
}
