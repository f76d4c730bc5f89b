package hindsight

import (
	"context"
	"testing"
)

func TestAssignEpisodeStartsInitialEpisode(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact)
	bank := mustCreateBank(t, e, "agent-1")

	res, err := e.Retain(ctx, bank.ID, "first thing happened", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if res.Episode.BoundaryReason != BoundaryInitial {
		t.Errorf("BoundaryReason = %q, want %q for the first episode", res.Episode.BoundaryReason, BoundaryInitial)
	}
	if res.Episode.EventCount != 1 {
		t.Errorf("EventCount = %d, want 1", res.Episode.EventCount)
	}
}

func TestAssignEpisodeContinuesWithinWindow(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact)
	bank := mustCreateBank(t, e, "agent-1")

	first, err := e.Retain(ctx, bank.ID, "first thing happened", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	second, err := e.Retain(ctx, bank.ID, "second thing happened soon after", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if second.Episode.ID != first.Episode.ID {
		t.Error("expected consecutive retains within the default window to share an episode")
	}
	if second.Episode.EventCount != 2 {
		t.Errorf("EventCount = %d, want 2 after the second retain", second.Episode.EventCount)
	}
}

func TestAssignEpisodeStartsNewOnBoundaryPhrase(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact)
	bank := mustCreateBank(t, e, "agent-1")

	first, err := e.Retain(ctx, bank.ID, "first thing happened", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	second, err := e.Retain(ctx, bank.ID, "let's switch gears and talk about something else", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if second.Episode.ID == first.Episode.ID {
		t.Error("expected a boundary phrase to start a new episode")
	}
	if second.Episode.BoundaryReason != BoundaryPhrase {
		t.Errorf("BoundaryReason = %q, want %q", second.Episode.BoundaryReason, BoundaryPhrase)
	}

	var linkCount int
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hs_episode_temporal_links WHERE from_episode = ? AND to_episode = ?`,
		first.Episode.ID, second.Episode.ID)
	if err := row.Scan(&linkCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if linkCount != 1 {
		t.Errorf("expected a temporal link between the two episodes, got %d", linkCount)
	}
}

func TestNarrativeWalksChainBackwards(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact)
	bank := mustCreateBank(t, e, "agent-1")

	if _, err := e.Retain(ctx, bank.ID, "first thing happened", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if _, err := e.Retain(ctx, bank.ID, "let's switch gears now", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	entries, err := e.Narrative(ctx, bank.ID, ScopeSession, 10)
	if err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 episodes in the narrative, got %d", len(entries))
	}
	if entries[0].GapMs != 0 {
		t.Errorf("expected the most recent entry to have GapMs 0, got %d", entries[0].GapMs)
	}
}

func TestNarrativeEmptyBankReturnsNil(t *testing.T) {
	e := newTestEngine(t, 16)
	bank := mustCreateBank(t, e, "agent-1")

	entries, err := e.Narrative(context.Background(), bank.ID, ScopeSession, 10)
	if err != nil {
		t.Fatalf("Narrative: %v", err)
	}
	if entries != nil {
		t.Errorf("expected nil narrative for a bank with no episodes, got %v", entries)
	}
}
