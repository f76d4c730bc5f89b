package hindsight

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy returns a bounded exponential backoff suitable for flaky
// embedding/LLM provider calls: a handful of attempts within a few seconds,
// never an unbounded retry loop.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)
}

func embedWithRetry(ctx context.Context, fn EmbedFn, text string) ([]float32, error) {
	var out []float32
	op := func() error {
		v, err := fn(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return nil, wrapErr("embed", err)
	}
	return out, nil
}

func embedBatchWithRetry(ctx context.Context, fn EmbedBatchFn, texts []string) ([][]float32, error) {
	var out [][]float32
	op := func() error {
		v, err := fn(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return nil, wrapErr("embed_batch", err)
	}
	return out, nil
}

func synthesizeWithRetry(ctx context.Context, fn SynthesizeFn, prompt string) (string, error) {
	var out string
	op := func() error {
		v, err := fn(ctx, prompt)
		if err != nil {
			return err
		}
		out = v
		return nil
	}
	if err := backoff.Retry(op, retryPolicy(ctx)); err != nil {
		return "", wrapErr("synthesize", err)
	}
	return out, nil
}
