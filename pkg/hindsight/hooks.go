package hindsight

import "context"

// ExtractedFact is one atomic claim an extraction pass pulled out of a
// source text, before routing decides whether it becomes a new memory, a
// reinforcement, or a reconsolidation of an existing one.
type ExtractedFact struct {
	Content    string
	FactType   FactType
	Confidence float64
	// OccurredStart/OccurredEnd let the extractor assert an explicit event
	// time distinct from when the text was written (epoch ms, optional).
	OccurredStart *int64
	OccurredEnd   *int64
	Entities      []string
	Tags          []string
	// CausalRelations links this fact to others earlier in the same
	// ExtractResult.Facts slice that caused it ("caused_by" edges). Forward
	// references (to a later index) and self-references are ignored.
	CausalRelations []CausalRelation
}

// ExtractResult is what a FactExtractorFn returns for one piece of source
// text: zero or more facts plus the entity names the extractor noticed,
// independent of which facts they ended up attached to.
type ExtractResult struct {
	Facts    []ExtractedFact
	Entities []string
}

// FactExtractorFn turns raw source text into candidate facts. Required for
// Retain; callers typically implement this with an LLM call plus
// lenientUnmarshal over a JSON-shaped prompt response.
type FactExtractorFn func(ctx context.Context, bank *Bank, sourceText string) (ExtractResult, error)

// RerankCandidate is one item offered to a RerankerFn, carrying enough of
// the memory to score relevance without a second storage round-trip.
type RerankCandidate struct {
	MemoryID string
	Content  string
	Score    float64
}

// RerankerFn reorders/rescales recall candidates against the query, e.g. with
// a cross-encoder or an LLM judging pass. Optional: when nil, Recall uses the
// fused RRF score unchanged.
type RerankerFn func(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankCandidate, error)

// SynthesizeFn drives the free-text generation steps that aren't pure
// extraction: consolidation's create/update/merge proposals, mental model
// refresh, and reflect's final answer. Prompt is fully assembled by the
// caller site; resp is the model's raw text (JSON fenced or plain,
// depending on the call site's expectations).
type SynthesizeFn func(ctx context.Context, prompt string) (string, error)

// StreamEventKind tags the shape of a StreamEvent's payload.
type StreamEventKind string

const (
	EventRunStarted        StreamEventKind = "run_started"
	EventTextMessageStart  StreamEventKind = "text_message_start"
	EventTextMessageContent StreamEventKind = "text_message_content"
	EventTextMessageEnd    StreamEventKind = "text_message_end"
	EventStepStarted       StreamEventKind = "step_started"
	EventStepFinished      StreamEventKind = "step_finished"
	EventToolCallStart     StreamEventKind = "tool_call_start"
	EventToolCallArgs      StreamEventKind = "tool_call_args"
	EventToolCallEnd       StreamEventKind = "tool_call_end"
	EventRunFinished       StreamEventKind = "run_finished"
	EventRunError          StreamEventKind = "run_error"
)

// StreamEvent is one tagged-enum notification emitted to Config.OnTrace
// during Retain, Recall and Reflect. Only the fields relevant to Kind are
// populated; the rest are zero values.
type StreamEvent struct {
	Kind      StreamEventKind
	RunID     string
	StepName  string
	ToolName  string
	ToolCallID string
	Content   string
	Err       error
}

func emit(onTrace func(StreamEvent), ev StreamEvent) {
	if onTrace != nil {
		onTrace(ev)
	}
}
