// Package embedding turns text into vectors of the width the vector store
// expects, on top of a native embedding engine.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/contextmore/internal/engine"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// Options configures an Adapter.
type Options struct {
	// TargetDim is the stored vector width. Zero stores native vectors.
	TargetDim int
	// BatchSize caps the number of texts sent to the engine per request.
	BatchSize int
	// Concurrency bounds in-flight engine requests for one Embed call.
	Concurrency int
	Logger      *slog.Logger
}

// Adapter wraps an Engine and normalizes its output to a fixed dimension.
type Adapter struct {
	engine      engine.Engine
	model       string
	target      int
	batchSize   int
	concurrency int
	logger      *slog.Logger

	mu        sync.Mutex
	nativeDim int
}

// NewAdapter creates an Adapter using the given Engine and model name.
func NewAdapter(e engine.Engine, model string, opts Options) *Adapter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		engine:      e,
		model:       model,
		target:      max(opts.TargetDim, 0),
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      opts.Logger.With("component", "embedding"),
	}
}

// Model returns the native model name.
func (a *Adapter) Model() string { return a.model }

// Dimension returns the width of vectors produced by Embed. With no target
// configured it embeds a probe string once to learn the native dimension.
func (a *Adapter) Dimension(ctx context.Context) (int, error) {
	if a.target > 0 {
		return a.target, nil
	}

	a.mu.Lock()
	d := a.nativeDim
	a.mu.Unlock()
	if d > 0 {
		return d, nil
	}

	vecs, err := a.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	return len(vecs[0]), nil
}

// EmbedQuery embeds a single text as a one-element batch.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed returns one vector per text, in input order, each of the adapter's
// dimension. Texts go to the engine in sub-batches with bounded concurrency.
// Any failure fails the whole call with *Error.
// Returns nil (not error) for empty/nil input.
func (a *Adapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for start := 0; start < len(texts); start += a.batchSize {
		end := min(start+a.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := a.engine.Embed(gCtx, a.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("engine returned %d vectors for %d texts", len(vecs), end-start)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &Error{Model: a.model, Err: err}
	}

	native := len(results[0])
	for i, v := range results {
		if len(v) != native {
			return nil, &Error{Model: a.model, Err: fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), native)}
		}
	}
	a.rememberNative(native)

	if a.target == 0 || native == a.target {
		return results, nil
	}

	a.logger.Debug("expanding embeddings", "native_dim", native, "target_dim", a.target, "count", len(results))
	for i, v := range results {
		expanded, err := Expand(v, a.target)
		if err != nil {
			return nil, &Error{Model: a.model, Err: err}
		}
		results[i] = expanded
	}
	return results, nil
}

func (a *Adapter) rememberNative(d int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nativeDim != d && a.nativeDim != 0 {
		a.logger.Warn("native embedding dimension changed", "previous", a.nativeDim, "current", d)
	}
	a.nativeDim = d
}
