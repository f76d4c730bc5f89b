package hindsight

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// currentEpisode returns the most recently touched episode for a bank/scope,
// or nil if none exists yet.
func (e *Engine) currentEpisode(ctx context.Context, bankID string, scope Scope) (*Episode, error) {
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT id, bank_id, scope, start_at, end_at, last_event_at, event_count, boundary_reason
		FROM hs_episodes WHERE bank_id = ? AND scope = ? ORDER BY last_event_at DESC LIMIT 1`,
		bankID, scope)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// lastEpisode returns the single most-recently-touched episode for a bank
// across every scope, or nil if the bank has none yet. Unlike currentEpisode
// this is not scope-filtered: it is how assignEpisode can ever detect a
// scope_change boundary, since the new memory's own scope would otherwise
// always match a scope-filtered lookup.
func (e *Engine) lastEpisode(ctx context.Context, db dbExecutor, bankID string) (*Episode, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, bank_id, scope, start_at, end_at, last_event_at, event_count, boundary_reason
		FROM hs_episodes WHERE bank_id = ? ORDER BY last_event_at DESC, id DESC LIMIT 1`,
		bankID)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// assignEpisode decides whether m belongs to the bank's current open
// episode or starts a new one. Boundary rules are checked in priority order:
// no prior episode, a boundary phrase in the source text, a scope change
// from the last episode touched (in any scope), then a time gap past
// bank.Config.EpisodeGapMs. It returns the episode m was filed under.
func (e *Engine) assignEpisode(ctx context.Context, db dbExecutor, bank *Bank, m *MemoryUnit, sourceText string) (*Episode, error) {
	cur, err := e.lastEpisode(ctx, db, bank.ID)
	if err != nil {
		return nil, err
	}

	eventTime := time.UnixMilli(m.EventDate)
	reason := BoundaryReason("")

	gapMs := bank.Config.EpisodeGapMs
	if gapMs <= 0 {
		gapMs = 45 * time.Minute.Milliseconds()
	}

	switch {
	case cur == nil:
		reason = BoundaryInitial
	case containsBoundaryPhrase(sourceText, bank.Config.EpisodeBoundaryPhrases):
		reason = BoundaryPhrase
	case cur.Scope != m.Scope:
		reason = BoundaryScopeChange
	case eventTime.Sub(cur.LastEventAt).Milliseconds() > gapMs:
		reason = BoundaryTimeGap
	}

	if reason == "" {
		cur.LastEventAt = eventTime
		cur.EventCount++
		if err := e.touchEpisode(ctx, db, cur); err != nil {
			return nil, err
		}
		return cur, nil
	}

	if cur != nil {
		now := eventTime
		cur.EndAt = &now
		if err := e.closeEpisode(ctx, db, cur); err != nil {
			return nil, err
		}
	}

	next := &Episode{
		ID:             newID(),
		BankID:         bank.ID,
		Scope:          m.Scope,
		StartAt:        eventTime,
		LastEventAt:    eventTime,
		EventCount:     1,
		BoundaryReason: reason,
	}
	if err := e.insertEpisode(ctx, db, next); err != nil {
		return nil, err
	}
	if cur != nil {
		linkGapMs := eventTime.Sub(cur.LastEventAt).Milliseconds()
		if err := e.linkEpisodes(ctx, db, cur.ID, next.ID, linkGapMs); err != nil {
			return nil, err
		}
	}
	return next, nil
}

func containsBoundaryPhrase(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (e *Engine) recordEpisodeEvent(ctx context.Context, db dbExecutor, episodeID, memoryID string, route Route, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_episode_events (id, episode_id, memory_id, route, event_time)
		VALUES (?, ?, ?, ?, ?)`, newID(), episodeID, memoryID, route, at.UnixMilli())
	return err
}

func (e *Engine) insertEpisode(ctx context.Context, db dbExecutor, ep *Episode) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_episodes (id, bank_id, scope, start_at, end_at, last_event_at, event_count, boundary_reason)
		VALUES (?, ?, ?, ?, NULL, ?, ?, ?)`,
		ep.ID, ep.BankID, ep.Scope, ep.StartAt.UnixMilli(), ep.LastEventAt.UnixMilli(), ep.EventCount, ep.BoundaryReason)
	return err
}

func (e *Engine) touchEpisode(ctx context.Context, db dbExecutor, ep *Episode) error {
	_, err := db.ExecContext(ctx, `
		UPDATE hs_episodes SET last_event_at = ?, event_count = ? WHERE id = ?`,
		ep.LastEventAt.UnixMilli(), ep.EventCount, ep.ID)
	return err
}

func (e *Engine) closeEpisode(ctx context.Context, db dbExecutor, ep *Episode) error {
	var endMs *int64
	if ep.EndAt != nil {
		ms := ep.EndAt.UnixMilli()
		endMs = &ms
	}
	_, err := db.ExecContext(ctx, `UPDATE hs_episodes SET end_at = ? WHERE id = ?`, endMs, ep.ID)
	return err
}

func (e *Engine) linkEpisodes(ctx context.Context, db dbExecutor, fromID, toID string, gapMs int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO hs_episode_temporal_links (id, from_episode, to_episode, gap_ms)
		VALUES (?, ?, ?, ?)`, newID(), fromID, toID, gapMs)
	return err
}

func scanEpisode(row rowScanner) (*Episode, error) {
	var ep Episode
	var startMs, lastMs int64
	var endMs sql.NullInt64
	if err := row.Scan(&ep.ID, &ep.BankID, &ep.Scope, &startMs, &endMs, &lastMs, &ep.EventCount, &ep.BoundaryReason); err != nil {
		return nil, err
	}
	ep.StartAt = time.UnixMilli(startMs)
	ep.LastEventAt = time.UnixMilli(lastMs)
	if endMs.Valid {
		t := time.UnixMilli(endMs.Int64)
		ep.EndAt = &t
	}
	return &ep, nil
}

// NarrativeEntry is one step of an episode's chained history, returned by
// Narrative for building a chronological account of a bank's activity.
type NarrativeEntry struct {
	Episode *Episode
	GapMs   int64 // gap since the previous entry in the walk, 0 for the first
}

// Narrative walks the episode chain for a bank/scope backwards from the most
// recent episode, following hs_episode_temporal_links, up to limit entries.
func (e *Engine) Narrative(ctx context.Context, bankID string, scope Scope, limit int) ([]NarrativeEntry, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	cur, err := e.currentEpisode(ctx, bankID, scope)
	if err != nil {
		return nil, wrapErr("narrative", err)
	}
	if cur == nil {
		return nil, nil
	}

	var out []NarrativeEntry
	out = append(out, NarrativeEntry{Episode: cur})

	for len(out) < limit {
		var fromID string
		var gapMs int64
		row := e.store.GetDB().QueryRowContext(ctx, `
			SELECT from_episode, gap_ms FROM hs_episode_temporal_links WHERE to_episode = ? LIMIT 1`, cur.ID)
		if err := row.Scan(&fromID, &gapMs); err == sql.ErrNoRows {
			break
		} else if err != nil {
			return nil, wrapErr("narrative", err)
		}

		prevRow := e.store.GetDB().QueryRowContext(ctx, `
			SELECT id, bank_id, scope, start_at, end_at, last_event_at, event_count, boundary_reason
			FROM hs_episodes WHERE id = ?`, fromID)
		prev, err := scanEpisode(prevRow)
		if err != nil {
			return nil, wrapErr("narrative", err)
		}
		out = append(out, NarrativeEntry{Episode: prev, GapMs: gapMs})
		cur = prev
	}
	return out, nil
}
