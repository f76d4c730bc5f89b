package hindsight

import (
	"context"
	"testing"
)

func TestBuildLinksCreatesEntityAndTemporalEdges(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	first, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	second, err := e.Retain(ctx, bank.ID, "Alice joined a new team", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}

	var entityLinks int
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hs_memory_links WHERE link_type = ?`, LinkEntity)
	if err := row.Scan(&entityLinks); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if entityLinks == 0 {
		t.Error("expected an entity link between two memories sharing the Alice entity")
	}

	var temporalLinks int
	row = e.store.GetDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hs_memory_links WHERE link_type = ? AND source_id = ? AND target_id = ?`,
		LinkTemporal, first.Memories[0].ID, second.Memories[0].ID)
	if err := row.Scan(&temporalLinks); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if temporalLinks != 1 {
		t.Errorf("expected a temporal link from the first to the second memory, got %d", temporalLinks)
	}
}

func TestRelatedMemoriesWalksGraph(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	first, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if _, err := e.Retain(ctx, bank.ID, "Alice joined a new team", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	related, err := e.RelatedMemories(ctx, first.Memories[0].ID, 2)
	if err != nil {
		t.Fatalf("RelatedMemories: %v", err)
	}
	if len(related) == 0 {
		t.Error("expected at least one related memory reachable from the seed")
	}
}

func TestRelatedMemoriesUnknownSeed(t *testing.T) {
	e := newTestEngine(t, 16)
	related, err := e.RelatedMemories(context.Background(), "does-not-exist", 2)
	if err != nil {
		t.Fatalf("RelatedMemories: %v", err)
	}
	if len(related) != 0 {
		t.Errorf("expected no related memories for an unknown seed, got %d", len(related))
	}
}
