package hindsight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// newTestEngine opens an Engine against a fresh temp-file SQLite database
// with a deterministic hash embedder wired in, so recall/retain tests don't
// need a real embedding provider. t.Cleanup removes the db file and closes
// the engine.
func newTestEngine(t *testing.T, dims int) *Engine {
	t.Helper()
	if dims <= 0 {
		dims = 16
	}
	dbPath := fmt.Sprintf("test_hindsight_%d_%d.db", time.Now().UnixNano(), len(t.Name()))

	cfg := DefaultConfig(dbPath)
	cfg.EmbeddingDimensions = dims
	cfg.Embed = hashEmbed(dims)

	e, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	})
	return e
}

// hashEmbed returns a deterministic embedder good enough to exercise cosine
// similarity and recall ranking without a real provider: same text always
// produces the same vector, and overlapping words pull vectors closer.
func hashEmbed(dims int) EmbedFn {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			h := 2166136261
			for _, r := range w {
				h = (h ^ int(r)) * 16777619
			}
			if h < 0 {
				h = -h
			}
			vec[h%dims] += 1
		}
		return vec, nil
	}
}

func mustCreateBank(t *testing.T, e *Engine, name string) *Bank {
	t.Helper()
	b, err := e.CreateBank(context.Background(), Bank{Name: name})
	if err != nil {
		t.Fatalf("CreateBank: %v", err)
	}
	return b
}

func singleFactExtractor(factType FactType, entities ...string) FactExtractorFn {
	return func(ctx context.Context, bank *Bank, sourceText string) (ExtractResult, error) {
		return ExtractResult{
			Facts: []ExtractedFact{{
				Content:    sourceText,
				FactType:   factType,
				Confidence: 0.9,
				Entities:   entities,
			}},
			Entities: entities,
		}, nil
	}
}

func TestNewRequiresDBPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for empty DBPath")
	}
}

func TestNewAndClose(t *testing.T) {
	e := newTestEngine(t, 16)
	if err := e.checkOpen(); err != nil {
		t.Fatalf("expected engine open, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.checkOpen(); err != ErrClosed {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	// Close must be idempotent.
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
