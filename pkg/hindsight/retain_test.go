package hindsight

import (
	"context"
	"strings"
	"testing"
)

func TestRetainCreatesNewTraceWithEntitiesAndEpisode(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice", "Google")
	bank := mustCreateBank(t, e, "agent-1")

	res, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if len(res.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(res.Memories))
	}
	if res.Routes[0] != RouteNewTrace {
		t.Errorf("route = %v, want RouteNewTrace for a brand new bank", res.Routes[0])
	}
	if res.Episode == nil {
		t.Error("expected Retain to assign an episode")
	}

	var entityCount int
	row := e.store.GetDB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM hs_memory_entities WHERE memory_id = ?`, res.Memories[0].ID)
	if err := row.Scan(&entityCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if entityCount != 2 {
		t.Errorf("expected 2 attached entities, got %d", entityCount)
	}
}

func TestRetainRejectsEmptySourceText(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact)
	bank := mustCreateBank(t, e, "agent-1")

	if _, err := e.Retain(ctx, bank.ID, "   ", RetainOptions{}); err == nil {
		t.Error("expected error for blank source text")
	}
}

func TestRetainReinforcesOnRepeatedContent(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	first, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain (first): %v", err)
	}

	second, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain (second): %v", err)
	}
	if second.Routes[0] != RouteReinforce {
		t.Errorf("route = %v, want RouteReinforce on identical repeated content", second.Routes[0])
	}
	if second.Memories[0].ID != first.Memories[0].ID {
		t.Error("expected reinforce to reuse the same memory id")
	}
	if second.Memories[0].AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1 after one reinforcement", second.Memories[0].AccessCount)
	}
}

func TestRetainUnknownBank(t *testing.T) {
	e := newTestEngine(t, 16)
	e.cfg.Extract = singleFactExtractor(WorldFact)
	if _, err := e.Retain(context.Background(), "does-not-exist", "hello", RetainOptions{}); err == nil {
		t.Error("expected error for unknown bank id")
	}
}

func TestRetainBatchMergesChunksPerItem(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	items := []RetainBatchItem{
		{SourceText: "Alice works at Google"},
		{SourceText: "Alice lives in Paris", Tags: []string{"location"}},
	}
	res, err := e.RetainBatch(ctx, bank.ID, items, RetainOptions{Tags: []string{"batch"}})
	if err != nil {
		t.Fatalf("RetainBatch: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 item results, got %d", len(res.Items))
	}
	for i, item := range res.Items {
		if item.Err != nil {
			t.Fatalf("item %d: unexpected error: %v", i, item.Err)
		}
		if len(item.Result.Memories) != 1 {
			t.Errorf("item %d: expected 1 memory, got %d", i, len(item.Result.Memories))
		}
	}
	if tags := res.Items[1].Result.Memories[0].Tags; len(tags) != 2 {
		t.Errorf("expected the second item's own tag merged with the shared batch tag, got %v", tags)
	}
}

func TestRetainBatchSplitsOversizeItemIntoChunks(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	long := strings.Repeat("a", retainMaxExtractionChars) + "\n\n" + strings.Repeat("b", 50)
	res, err := e.RetainBatch(ctx, bank.ID, []RetainBatchItem{{SourceText: long}}, RetainOptions{})
	if err != nil {
		t.Fatalf("RetainBatch: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Err != nil {
		t.Fatalf("unexpected item result: %+v", res.Items)
	}
	if len(res.Items[0].Result.Memories) != 2 {
		t.Errorf("expected 2 memories (one per chunk), got %d", len(res.Items[0].Result.Memories))
	}
}

func TestChunkTextPrefersParagraphBoundary(t *testing.T) {
	s := strings.Repeat("a", 10) + "\n\n" + strings.Repeat("b", 10)
	chunks := chunkText(s, 15)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 10)+"\n\n" {
		t.Errorf("expected the first chunk to end at the paragraph boundary, got %q", chunks[0])
	}
}

func TestChunkTextUnderLimitReturnsOneChunk(t *testing.T) {
	chunks := chunkText("short text", 100)
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Errorf("expected a single unsplit chunk, got %v", chunks)
	}
}

func TestRetainNoFactsReturnsEmptyResult(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = func(ctx context.Context, bank *Bank, text string) (ExtractResult, error) {
		return ExtractResult{}, nil
	}
	bank := mustCreateBank(t, e, "agent-1")

	res, err := e.Retain(ctx, bank.ID, "nothing extractable here", RetainOptions{})
	if err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if len(res.Memories) != 0 {
		t.Errorf("expected no memories when extraction yields no facts, got %d", len(res.Memories))
	}
}
