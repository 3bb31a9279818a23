package embedding

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/httpclient"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// Batcher defaults
const (
	DefaultBatchSize     = 64
	DefaultRetryDelay    = 200 * time.Millisecond
	DefaultMaxRetryDelay = 5 * time.Second
)

// BatcherOptions tunes batching and retry. Zero sizes and delays take the
// defaults above, Workers 0 means one worker per CPU, and MaxRetries 0
// means a failed batch is not retried.
type BatcherOptions struct {
	BatchSize     int
	Workers       int
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// Batcher splits large inputs into batches, embeds them concurrently on a
// bounded group and reassembles the vectors in input order. A batch that
// keeps failing after MaxRetries retries fails the whole call with an
// embedding failure. Batcher is itself an Embedder.
type Batcher struct {
	inner Embedder
	opts  BatcherOptions
	log   logger.Logger

	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatcher wraps inner
func NewBatcher(inner Embedder, opts BatcherOptions, log logger.Logger) *Batcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = max(DefaultMaxRetryDelay, opts.RetryDelay)
	}
	if log == nil {
		log = logger.Global().Module("embedding")
	}
	return &Batcher{inner: inner, opts: opts, log: log, sleep: sleepContext}
}

func (b *Batcher) Dimension() int { return b.inner.Dimension() }

func (b *Batcher) Name() string { return b.inner.Name() }

// Embed embeds texts in batches. On error no partial result is returned.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)

	for start := 0; start < len(texts); start += b.opts.BatchSize {
		end := min(start+b.opts.BatchSize, len(texts))
		g.Go(func() error {
			vectors, err := b.embedBatch(gctx, texts[start:end], start)
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !errors.IsEmbeddingFailure(err) {
			return nil, errors.New(err).
				Component("embedding").
				Category(errors.CategoryCancellation).
				Build()
		}
		return nil, err
	}
	return out, nil
}

func (b *Batcher) embedBatch(ctx context.Context, batch []string, offset int) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= b.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := b.sleep(ctx, b.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		vectors, err := b.inner.Embed(ctx, batch)
		if err == nil {
			err = checkShape(vectors, len(batch), b.inner.Dimension())
		}
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !retryable(err) {
			return nil, errors.EmbeddingFailureError(err, b.inner.Name(), attempt+1)
		}
		b.log.Warn("embedding batch failed",
			logger.Int("offset", offset),
			logger.Int("size", len(batch)),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}
	return nil, errors.EmbeddingFailureError(lastErr, b.inner.Name(), b.opts.MaxRetries+1)
}

// backoff doubles the initial delay per retry up to the ceiling
func (b *Batcher) backoff(attempt int) time.Duration {
	d := b.opts.RetryDelay
	for i := 1; i < attempt && d < b.opts.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, b.opts.MaxRetryDelay)
}

// retryable is false only for HTTP statuses that will not change on retry
func retryable(err error) bool {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
