package hindsight

import (
	"context"
	"errors"
	"testing"
)

func TestEmbedWithRetryRecoversFromTransientFailure(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context, text string) ([]float32, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient failure")
		}
		return []float32{1, 2, 3}, nil
	}

	vec, err := embedWithRetry(context.Background(), fn, "hello")
	if err != nil {
		t.Fatalf("embedWithRetry: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected the eventual successful vector to be returned, got %v", vec)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (2 failures then a success)", attempts)
	}
}

func TestEmbedWithRetryGivesUpEventually(t *testing.T) {
	fn := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("permanent failure")
	}
	if _, err := embedWithRetry(context.Background(), fn, "hello"); err == nil {
		t.Error("expected an error once retries are exhausted against a permanently failing embedder")
	}
}

func TestSynthesizeWithRetryRecoversFromTransientFailure(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context, prompt string) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient failure")
		}
		return "ok", nil
	}
	out, err := synthesizeWithRetry(context.Background(), fn, "prompt")
	if err != nil {
		t.Fatalf("synthesizeWithRetry: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want %q", out, "ok")
	}
}
