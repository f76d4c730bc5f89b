package hindsight

import (
	"context"
	"testing"
)

func taggedFactExtractor(tags ...string) FactExtractorFn {
	return func(ctx context.Context, bank *Bank, sourceText string) (ExtractResult, error) {
		return ExtractResult{
			Facts: []ExtractedFact{{Content: sourceText, FactType: WorldFact, Confidence: 0.9, Tags: tags}},
		}, nil
	}
}

func TestListTagsDedupesAcrossMemories(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	bank := mustCreateBank(t, e, "agent-1")

	e.cfg.Extract = taggedFactExtractor("work", "alice")
	if _, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	e.cfg.Extract = taggedFactExtractor("weather", "alice")
	if _, err := e.Retain(ctx, bank.ID, "It's sunny today", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	tags, err := e.ListTags(ctx, bank.ID)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	seen := map[string]bool{}
	for _, tg := range tags {
		if seen[tg] {
			t.Errorf("tag %q listed more than once", tg)
		}
		seen[tg] = true
	}
	for _, want := range []string{"work", "alice", "weather"} {
		if !seen[want] {
			t.Errorf("expected tag %q to appear, got %v", want, tags)
		}
	}
}

func TestListEpisodesFiltersByScope(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact)
	bank := mustCreateBank(t, e, "agent-1")

	if _, err := e.Retain(ctx, bank.ID, "session scoped event", RetainOptions{Scope: ScopeSession}); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if _, err := e.Retain(ctx, bank.ID, "profile scoped event", RetainOptions{Scope: ScopeProfile}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	sessionEpisodes, err := e.ListEpisodes(ctx, bank.ID, ScopeSession, 10)
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(sessionEpisodes) != 1 {
		t.Errorf("expected 1 session-scoped episode, got %d", len(sessionEpisodes))
	}
}

func TestStatsCounts(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")

	if _, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}
	if _, err := e.Enqueue(ctx, bank.ID, TaskRetain, `{"x":1}`, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := e.Stats(ctx, bank.ID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MemoryCount != 1 {
		t.Errorf("MemoryCount = %d, want 1", stats.MemoryCount)
	}
	if stats.EntityCount != 1 {
		t.Errorf("EntityCount = %d, want 1", stats.EntityCount)
	}
	if stats.EpisodeCount != 1 {
		t.Errorf("EpisodeCount = %d, want 1", stats.EpisodeCount)
	}
	if stats.PendingOps != 1 {
		t.Errorf("PendingOps = %d, want 1", stats.PendingOps)
	}
}
