package hindsight

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// reflectBudgets maps a bank's ReflectBudget setting to a maximum number of
// tool-call rounds.
var reflectBudgets = map[string]int{
	"low":  3,
	"mid":  5,
	"high": 8,
}

// observationStaleHalfLife and observationStaleThreshold define what
// search_observations reports as "stale": an observation's freshness decays
// on this half-life from whichever is later of its last update or its last
// consolidation, and a freshness below the threshold is flagged so the
// reflection loop can discount it instead of citing it as current.
const observationStaleHalfLife = 14 * 24 * time.Hour
const observationStaleThreshold = 0.35

// reflectStep is one parsed turn of the tool loop: either a tool call or a
// final answer, never both.
type reflectStep struct {
	Tool     string            `json:"tool"`
	Args     map[string]string `json:"args"`
	Answer   string            `json:"answer"`
	Finished bool              `json:"finished"`
}

// ReflectOptions configures a single call to Reflect.
type ReflectOptions struct {
	MaxIterations          int    // overrides the bank's ReflectBudget round count when > 0
	SaveObservations       bool   // persist the final answer as a new observation memory
	StructuredOutputPrompt string // when set, ask once more for the answer reshaped to this description
}

// ReflectResult is what Reflect returns.
type ReflectResult struct {
	Answer           string
	ToolCalls        int
	Trace            []StreamEvent
	Memories         []*MemoryUnit // raw memories surfaced by search_memories, deduplicated
	Observations     []*MemoryUnit // observations surfaced by search_observations, deduplicated, plus the one saved under SaveObservations
	StructuredOutput string        // set when ReflectOptions.StructuredOutputPrompt was provided
}

// reflectTools are the four tools the bounded loop can call, each backed
// directly by an Engine lookup rather than a generic query language.
const (
	toolSearchMentalModels = "search_mental_models"
	toolSearchObservations = "search_observations"
	toolSearchMemories     = "search_memories"
	toolGetEntity          = "get_entity"
)

// Reflect runs a bounded tool-using loop over a bank's three-tier memory
// hierarchy (mental models, observations, raw memories) to answer query. The
// loop budget is taken from the bank's ReflectBudget ("low"=3, "mid"=5,
// "high"=8 rounds), unless opts.MaxIterations overrides it. Each round the
// model either calls one of four read-only tools or returns a final answer.
// When opts.SaveObservations is set, the final answer is itself persisted as
// a new observation memory sourced from whatever memories/observations the
// loop actually consulted; when opts.StructuredOutputPrompt is set, a final
// extra round reshapes the answer to that description.
func (e *Engine) Reflect(ctx context.Context, bankID, query string, opts ReflectOptions) (*ReflectResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.cfg.Synthesize == nil {
		return nil, wrapErr("reflect", ErrInvalidOptions)
	}
	bank, err := e.GetBank(ctx, bankID)
	if err != nil {
		return nil, wrapErr("reflect", err)
	}

	budget := reflectBudgets[bank.Config.ReflectBudget]
	if budget == 0 {
		budget = reflectBudgets["mid"]
	}
	if opts.MaxIterations > 0 {
		budget = opts.MaxIterations
	}

	directives, err := e.ListActiveDirectives(ctx, bankID)
	if err != nil {
		return nil, wrapErr("reflect", err)
	}

	runID := newID()
	emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunStarted, RunID: runID})
	defer emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunFinished, RunID: runID})

	var transcript strings.Builder
	transcript.WriteString(systemPrompt(bank, directives))
	transcript.WriteString("\n\nUser question: ")
	transcript.WriteString(query)
	transcript.WriteString("\n")

	result := &ReflectResult{}
	seenMemory := map[string]bool{}
	seenObservation := map[string]bool{}
	recordTouched := func(mems []*MemoryUnit) {
		for _, m := range mems {
			if m.IsObservation() {
				if !seenObservation[m.ID] {
					seenObservation[m.ID] = true
					result.Observations = append(result.Observations, m)
				}
			} else if !seenMemory[m.ID] {
				seenMemory[m.ID] = true
				result.Memories = append(result.Memories, m)
			}
		}
	}

	answered := false
	for round := 0; round < budget && !answered; round++ {
		stepName := fmt.Sprintf("round_%d", round)
		emit(e.cfg.OnTrace, StreamEvent{Kind: EventStepStarted, RunID: runID, StepName: stepName})

		resp, err := synthesizeWithRetry(ctx, e.cfg.Synthesize, transcript.String())
		emit(e.cfg.OnTrace, StreamEvent{Kind: EventStepFinished, RunID: runID, StepName: stepName})
		if err != nil {
			emit(e.cfg.OnTrace, StreamEvent{Kind: EventRunError, RunID: runID, Err: err})
			return nil, wrapErr("reflect", err)
		}

		var step reflectStep
		if !lenientUnmarshal(resp, &step) || step.Finished || step.Tool == "" {
			answer := step.Answer
			if answer == "" {
				answer = strings.TrimSpace(resp)
			}
			result.Answer = answer
			answered = true
			break
		}

		emit(e.cfg.OnTrace, StreamEvent{Kind: EventToolCallStart, RunID: runID, ToolName: step.Tool})
		observation, touched := e.runReflectTool(ctx, bankID, step)
		emit(e.cfg.OnTrace, StreamEvent{Kind: EventToolCallEnd, RunID: runID, ToolName: step.Tool})
		result.ToolCalls++
		recordTouched(touched)

		transcript.WriteString(fmt.Sprintf("\nTool %s result:\n%s\n", step.Tool, observation))
	}

	if !answered {
		// Budget exhausted without a final answer: ask once more for a direct answer.
		transcript.WriteString("\nBudget exhausted. Give your best final answer now, plain text only.\n")
		answer, err := synthesizeWithRetry(ctx, e.cfg.Synthesize, transcript.String())
		if err != nil {
			return nil, wrapErr("reflect", err)
		}
		result.Answer = strings.TrimSpace(answer)
	}

	if opts.SaveObservations && result.Answer != "" {
		sourceIDs := make([]string, 0, len(result.Memories)+len(result.Observations))
		for _, m := range result.Memories {
			sourceIDs = append(sourceIDs, m.ID)
		}
		for _, m := range result.Observations {
			sourceIDs = append(sourceIDs, m.ID)
		}
		saved, err := e.saveReflectObservation(ctx, bank, query, result.Answer, sourceIDs)
		if err != nil {
			e.cfg.Logger.Warn("reflect: save observation failed", "bank_id", bankID, "error", err)
		} else {
			result.Observations = append(result.Observations, saved)
		}
	}

	if opts.StructuredOutputPrompt != "" && result.Answer != "" {
		structured, err := e.structureReflectAnswer(ctx, result.Answer, opts.StructuredOutputPrompt)
		if err != nil {
			e.cfg.Logger.Warn("reflect: structured output failed", "bank_id", bankID, "error", err)
		} else {
			result.StructuredOutput = structured
		}
	}

	return result, nil
}

// saveReflectObservation persists a reflect answer as a new observation
// memory, sourced from whatever memories/observations the loop consulted.
func (e *Engine) saveReflectObservation(ctx context.Context, bank *Bank, query, answer string, sourceMemoryIDs []string) (*MemoryUnit, error) {
	var vector []float32
	if e.cfg.Embed != nil {
		if v, err := e.embed(ctx, answer); err == nil {
			vector = v
		}
	}
	now := time.Now()
	m := &MemoryUnit{
		ID:               newID(),
		BankID:           bank.ID,
		Content:          answer,
		FactType:         ObservationFact,
		Confidence:       0.7,
		EventDate:        now.UnixMilli(),
		MentionedAt:      now.UnixMilli(),
		Tags:             []string{"reflect"},
		SourceText:       query,
		EncodingStrength: 1.0,
		Scope:            ScopeProfile,
		ProofCount:       1,
		SourceMemoryIDs:  sourceMemoryIDs,
		Vector:           vector,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.insertMemory(ctx, e.store.GetDB(), m); err != nil {
		return nil, err
	}
	if m.Vector != nil {
		if err := e.upsertMemoryEmbedding(ctx, m); err != nil {
			e.cfg.Logger.Warn("reflect observation embedding upsert failed", "memory_id", m.ID, "error", err)
		}
	}
	return m, nil
}

// structureReflectAnswer asks the model to reshape an already-final answer
// to match shapePrompt, a free-form description of the desired output (a
// JSON schema, a bullet format, whatever the caller needs downstream).
func (e *Engine) structureReflectAnswer(ctx context.Context, answer, shapePrompt string) (string, error) {
	prompt := fmt.Sprintf(
		"Reformat the following answer to match the requested shape. Respond with only the reformatted output, no preamble.\n\nShape: %s\n\nAnswer: %s",
		shapePrompt, answer)
	resp, err := synthesizeWithRetry(ctx, e.cfg.Synthesize, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func systemPrompt(bank *Bank, directives []*Directive) string {
	var sb strings.Builder
	sb.WriteString("You are the reflection agent for a long-term memory bank.\n")
	if bank.Mission != "" {
		sb.WriteString("Mission: " + bank.Mission + "\n")
	}
	sb.WriteString(dispositionPrompt(bank.Disposition))
	if len(directives) > 0 {
		sb.WriteString("\nDirectives (highest priority first):\n")
		for _, d := range directives {
			fmt.Fprintf(&sb, "- %s\n", d.Content)
		}
	}
	sb.WriteString("\nAvailable tools: search_mental_models, search_observations, search_memories, get_entity.\n")
	sb.WriteString("Respond with JSON: {\"tool\":\"...\",\"args\":{...}} to call a tool, or {\"finished\":true,\"answer\":\"...\"} to answer.\n")
	return sb.String()
}

func dispositionPrompt(d Disposition) string {
	skeptic := "moderately skeptical of unverified claims"
	if d.Skepticism >= 4 {
		skeptic = "highly skeptical of unverified claims"
	} else if d.Skepticism <= 2 {
		skeptic = "trusting of what the memories report"
	}
	literal := "interpret memories with reasonable flexibility"
	if d.Literalism >= 4 {
		literal = "interpret memories literally"
	}
	empathy := "respond with balanced warmth"
	if d.Empathy >= 4 {
		empathy = "respond with noticeable empathy"
	} else if d.Empathy <= 2 {
		empathy = "respond in a detached, clinical register"
	}
	return fmt.Sprintf("Voice: %s; %s; %s.\n", skeptic, literal, empathy)
}

// runReflectTool executes one tool call and returns its text observation
// plus the memories it surfaced, for the caller to fold into ReflectResult.
func (e *Engine) runReflectTool(ctx context.Context, bankID string, step reflectStep) (string, []*MemoryUnit) {
	switch step.Tool {
	case toolSearchMentalModels:
		models, err := e.ListMentalModels(ctx, bankID)
		if err != nil {
			return "error: " + err.Error(), nil
		}
		var sb strings.Builder
		for _, m := range models {
			fmt.Fprintf(&sb, "- %s: %s\n", m.Name, m.Content)
		}
		if sb.Len() == 0 {
			return "no mental models", nil
		}
		return sb.String(), nil

	case toolSearchObservations:
		q := step.Args["query"]
		res, err := e.Recall(ctx, bankID, q, RecallOptions{TopK: 5})
		if err != nil {
			return "error: " + err.Error(), nil
		}
		return formatRecallForTool(res, true)

	case toolSearchMemories:
		q := step.Args["query"]
		res, err := e.Recall(ctx, bankID, q, RecallOptions{TopK: 8})
		if err != nil {
			return "error: " + err.Error(), nil
		}
		return formatRecallForTool(res, false)

	case toolGetEntity:
		name := step.Args["name"]
		entities, err := e.ListEntities(ctx, bankID)
		if err != nil {
			return "error: " + err.Error(), nil
		}
		for _, ent := range entities {
			if strings.EqualFold(ent.Name, name) {
				return fmt.Sprintf("%s (%s): %s, mentioned %d times", ent.Name, ent.EntityType, ent.Description, ent.MentionCount), nil
			}
		}
		return "no matching entity", nil

	default:
		return "unknown tool", nil
	}
}

// freshnessScore decays on observationStaleHalfLife from whichever is later
// of a memory's last update or last consolidation. It decays the same way for
// any memory; formatRecallForTool applies it only to observations.
func freshnessScore(m *MemoryUnit, now time.Time) float64 {
	basis := m.UpdatedAt
	if m.ConsolidatedAt != nil && m.ConsolidatedAt.After(basis) {
		basis = *m.ConsolidatedAt
	}
	age := now.Sub(basis)
	if age < 0 {
		age = 0
	}
	return math.Exp2(-float64(age) / float64(observationStaleHalfLife))
}

// formatRecallForTool renders a Recall result for a tool observation,
// filtering to observations when observationsOnly is set and, for
// observations, annotating each line with the signals search_observations'
// staleness-aware retrieval depends on: relevance, proof count, freshness,
// and whether freshness has dropped below observationStaleThreshold. It
// returns the rendered text alongside the memories it kept, for the caller
// to track as touched by this tool call.
func formatRecallForTool(res *RecallResult, observationsOnly bool) (string, []*MemoryUnit) {
	var sb strings.Builder
	var kept []*MemoryUnit
	now := time.Now()
	for _, hit := range res.Results {
		if observationsOnly && !hit.Memory.IsObservation() {
			continue
		}
		kept = append(kept, hit.Memory)
		if observationsOnly {
			fresh := freshnessScore(hit.Memory, now)
			fmt.Fprintf(&sb, "- %s (relevance=%.2f, proofCount=%d, freshness=%.2f, stale=%t)\n",
				hit.Memory.Content, hit.FinalScore, hit.Memory.ProofCount, fresh, fresh < observationStaleThreshold)
		} else {
			fmt.Fprintf(&sb, "- %s (relevance=%.2f)\n", hit.Memory.Content, hit.FinalScore)
		}
	}
	if sb.Len() == 0 {
		return "no results", nil
	}
	return sb.String(), kept
}
