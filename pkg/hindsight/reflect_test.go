package hindsight

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
)

// scriptedSynthesizer returns each response in order on successive calls,
// repeating the last one if called more times than the script has entries.
func scriptedSynthesizer(responses ...string) SynthesizeFn {
	var i int32
	return func(ctx context.Context, prompt string) (string, error) {
		n := atomic.AddInt32(&i, 1) - 1
		if int(n) >= len(responses) {
			return responses[len(responses)-1], nil
		}
		return responses[n], nil
	}
}

func TestReflectAnswersDirectlyWithoutToolCalls(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Synthesize = jsonSynthesizer(`{"finished":true,"answer":"Alice works at Google."}`)
	bank := mustCreateBank(t, e, "agent-1")

	res, err := e.Reflect(ctx, bank.ID, "where does Alice work?", ReflectOptions{})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if res.Answer != "Alice works at Google." {
		t.Errorf("Answer = %q, want the synthesized final answer", res.Answer)
	}
	if res.ToolCalls != 0 {
		t.Errorf("ToolCalls = %d, want 0", res.ToolCalls)
	}
}

func TestReflectCallsToolThenAnswers(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")
	if _, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	e.cfg.Synthesize = scriptedSynthesizer(
		`{"tool":"search_memories","args":{"query":"Alice"}}`,
		`{"finished":true,"answer":"Alice works at Google."}`,
	)

	res, err := e.Reflect(ctx, bank.ID, "where does Alice work?", ReflectOptions{})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if res.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", res.ToolCalls)
	}
	if res.Answer != "Alice works at Google." {
		t.Errorf("Answer = %q, want the synthesized final answer", res.Answer)
	}
}

func TestReflectExhaustsBudgetAndForcesAnswer(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	bank, err := e.CreateBank(ctx, Bank{Name: "agent-1", Config: BankConfig{ReflectBudget: "low"}})
	if err != nil {
		t.Fatalf("CreateBank: %v", err)
	}

	// Always proposes a tool call, never finishes — forces the loop to run
	// out its budget and fall back to the forced final-answer prompt.
	e.cfg.Synthesize = func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Budget exhausted") {
			return "final answer after budget exhaustion", nil
		}
		return `{"tool":"search_memories","args":{"query":"x"}}`, nil
	}

	res, err := e.Reflect(ctx, bank.ID, "anything", ReflectOptions{})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if res.ToolCalls != reflectBudgets["low"] {
		t.Errorf("ToolCalls = %d, want the full low budget of %d", res.ToolCalls, reflectBudgets["low"])
	}
	if res.Answer != "final answer after budget exhaustion" {
		t.Errorf("Answer = %q, want the forced final answer", res.Answer)
	}
}

func TestReflectRequiresSynthesize(t *testing.T) {
	e := newTestEngine(t, 16)
	bank := mustCreateBank(t, e, "agent-1")
	if _, err := e.Reflect(context.Background(), bank.ID, "anything", ReflectOptions{}); err == nil {
		t.Error("expected error when Config.Synthesize is nil")
	}
}

func TestReflectSavesObservationWhenRequested(t *testing.T) {
	e := newTestEngine(t, 16)
	ctx := context.Background()
	e.cfg.Extract = singleFactExtractor(WorldFact, "Alice")
	bank := mustCreateBank(t, e, "agent-1")
	if _, err := e.Retain(ctx, bank.ID, "Alice works at Google", RetainOptions{}); err != nil {
		t.Fatalf("Retain: %v", err)
	}

	e.cfg.Synthesize = scriptedSynthesizer(
		`{"tool":"search_memories","args":{"query":"Alice"}}`,
		`{"finished":true,"answer":"Alice works at Google."}`,
	)

	res, err := e.Reflect(ctx, bank.ID, "where does Alice work?", ReflectOptions{SaveObservations: true})
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if len(res.Observations) != 1 {
		t.Fatalf("expected 1 saved observation, got %d", len(res.Observations))
	}
	if res.Observations[0].Content != res.Answer {
		t.Errorf("saved observation content = %q, want the reflect answer %q", res.Observations[0].Content, res.Answer)
	}
	if !res.Observations[0].IsObservation() {
		t.Error("expected the saved memory to be an ObservationFact")
	}

	var obsCount int
	row := e.store.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM hs_memories WHERE bank_id = ? AND fact_type = ? AND content = ?`,
		bank.ID, ObservationFact, res.Answer)
	if err := row.Scan(&obsCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if obsCount != 1 {
		t.Errorf("expected the observation to be persisted, got %d rows", obsCount)
	}
}
