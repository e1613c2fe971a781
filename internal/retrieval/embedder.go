package retrieval

import (
	"context"
	"fmt"
	"sync"

	"github.com/kalambet/knowitall/internal/engine"
	"golang.org/x/sync/errgroup"
)

// Embedder turns text into vectors with a fixed embedding model. It records
// the dimension of the first vector it sees and rejects later vectors of a
// different size, since every consumer stores them side by side.
type Embedder struct {
	engine engine.Engine
	model  string

	mu   sync.Mutex
	dims int
}

// NewEmbedder creates an Embedder using model on e.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Dims returns the vector size observed so far, or 0.
func (e *Embedder) Dims() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := e.checkDims(len(vec)); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently, preserving order. Empty input
// returns nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) checkDims(n int) error {
	if n == 0 {
		return fmt.Errorf("embedding model %s returned an empty vector", e.model)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = n
		return nil
	}
	if n != e.dims {
		return fmt.Errorf("embedding dimension changed from %d to %d", e.dims, n)
	}
	return nil
}
