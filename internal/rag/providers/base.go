package providers

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teeksss/modularmind-rag/internal/rag/metric"
)

// rateLimitError signals a provider-side rate limit. retryAfter is the
// provider-indicated wait, or zero to let the retry policy pick a default.
type rateLimitError struct {
	retryAfter time.Duration
	inner      error
}

func (e *rateLimitError) Error() string { return "rate limited: " + e.inner.Error() }
func (e *rateLimitError) Unwrap() error { return e.inner }

// transientError signals a retryable transport failure (timeout, 5xx,
// connection reset) as distinct from a permanent request error.
type transientError struct{ inner error }

func (e *transientError) Error() string { return "transient: " + e.inner.Error() }
func (e *transientError) Unwrap() error { return e.inner }

// singleCall is implemented by each concrete provider to embed exactly one
// text. base turns this into the full Adapter contract: empty-text
// shortcut, truncation, rate-limit/transient retry, batch fan-out with
// order preservation, and optional normalization.
type singleCall func(ctx context.Context, text string) ([]float64, error)

type base struct {
	dims         int
	maxChars     int
	normalize    bool
	maxBatchConc int
	call         singleCall
}

func newBase(dims, maxChars int, normalize bool, call singleCall) *base {
	conc := 8
	return &base{dims: dims, maxChars: maxChars, normalize: normalize, maxBatchConc: conc, call: call}
}

func (b *base) Dimensions() int { return b.dims }

func (b *base) truncate(text string) string {
	if b.maxChars <= 0 || len(text) <= b.maxChars {
		return text
	}
	return text[:b.maxChars]
}

func (b *base) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return make([]float64, b.dims), nil
	}
	text = b.truncate(text)
	v, err := withRetry(ctx, false, func() ([]float64, error) { return b.call(ctx, text) })
	if err != nil {
		return nil, err
	}
	if b.normalize {
		v = metric.Normalize64(v)
	}
	return v, nil
}

// EmbedBatch embeds each text concurrently (bounded), preserving input
// order in the result slice regardless of completion order.
func (b *base) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, b.maxBatchConc)
	for i, text := range texts {
		i, text := i, text
		if text == "" {
			out[i] = make([]float64, b.dims)
			continue
		}
		text = b.truncate(text)
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			v, err := withRetry(gctx, true, func() ([]float64, error) { return b.call(gctx, text) })
			if err != nil {
				return err
			}
			if b.normalize {
				v = metric.Normalize64(v)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// withRetry applies the spec's adapter-level retry policy: one retry after
// a backoff for rate limits (provider-indicated interval, else 2s for a
// single call / 5s for a batch member), and up to three retries with
// exponential backoff (2s-10s) for transient transport failures.
func withRetry(ctx context.Context, isBatch bool, fn func() ([]float64, error)) ([]float64, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}

	var rl *rateLimitError
	if errors.As(err, &rl) {
		wait := rl.retryAfter
		if wait <= 0 {
			if isBatch {
				wait = 5 * time.Second
			} else {
				wait = 2 * time.Second
			}
		}
		if werr := sleep(ctx, wait); werr != nil {
			return nil, werr
		}
		return fn()
	}

	var te *transientError
	if errors.As(err, &te) {
		backoff := 2 * time.Second
		var lastErr error = err
		for attempt := 0; attempt < 3; attempt++ {
			if werr := sleep(ctx, backoff); werr != nil {
				return nil, werr
			}
			v, lastErr = fn()
			if lastErr == nil {
				return v, nil
			}
			if !errors.As(lastErr, &te) {
				return nil, lastErr
			}
			backoff *= 2
			if backoff > 10*time.Second {
				backoff = 10 * time.Second
			}
		}
		return nil, lastErr
	}

	return nil, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
