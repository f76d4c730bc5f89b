package hindsight

import (
	"context"

	"github.com/embedded-minds/hindsight/pkg/core"
)

// EmbedFn turns text into a vector. There is no built-in provider. When Embed
// is nil, Retain stores every fact as a new trace without a vector and Recall
// runs without its semantic channel.
type EmbedFn func(ctx context.Context, text string) ([]float32, error)

// EmbedBatchFn is an optional batched form of EmbedFn. When nil the engine
// falls back to calling EmbedFn once per item.
type EmbedBatchFn func(ctx context.Context, texts []string) ([][]float32, error)

// Config wires the engine's effectful collaborators and tunables. It mirrors
// the storage kernel's own Config/DefaultConfig shape: a value type with a
// constructor that fills in sane defaults, not a builder.
type Config struct {
	DBPath string

	// EmbeddingDimensions must match what Embed returns; the underlying
	// vector collection is created with this fixed width.
	EmbeddingDimensions int

	Embed      EmbedFn
	EmbedBatch EmbedBatchFn
	Rerank     RerankerFn
	Extract    FactExtractorFn
	Synthesize SynthesizeFn

	// EnableConsolidation is the bank-level default; a bank's own
	// BankConfig.EnableConsolidation overrides it when set.
	EnableConsolidation bool

	Defaults BankConfig

	// OnTrace, when set, receives a StreamEvent for every step of Retain,
	// Recall and Reflect. It must not block; the engine calls it synchronously
	// on the calling goroutine.
	OnTrace func(StreamEvent)

	// MaxConcurrentGists bounds the background gist-upgrade worker pool
	// Retain launches after persisting a batch of raw memories.
	MaxConcurrentGists int

	Logger core.Logger
}

// DefaultConfig returns a Config with the engine's documented defaults. Embed
// is left nil; New does not require it (see EmbedFn).
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:              dbPath,
		EmbeddingDimensions: 1536,
		EnableConsolidation: true,
		MaxConcurrentGists:  3,
		Defaults: BankConfig{
			ExtractionMode:         "concise",
			ReflectBudget:          "mid",
			ReinforceThreshold:     0.92,
			ReconsolidateThreshold: 0.75,
			TemporalWindowMs:       24 * 60 * 60 * 1000,
			EpisodeGapMs:           45 * 60 * 1000,
			EpisodeBoundaryPhrases: defaultEpisodeBoundaryPhrases,
		},
		Logger: core.NopLogger(),
	}
}

var defaultEpisodeBoundaryPhrases = []string{
	"let's switch gears",
	"on a different note",
	"changing the subject",
	"moving on",
	"new topic",
}
