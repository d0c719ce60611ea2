// Package embedding provides text embedding backends (remote OpenAI-style APIs, local
// ONNX models and a deterministic mock) and a registry that resolves them by model.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownModel is returned when no embedder is registered for a model identifier.
var ErrUnknownModel = errors.New("no embedder registered for model")

// Embedder produces vector embeddings for text with one model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model is the identifier that, together with the text, keys cached embeddings.
	Model() string
	Close() error
}

// Registry resolves embedders by model identifier.
type Registry struct {
	mu      sync.RWMutex
	byModel map[string]Embedder
}

// NewRegistry returns a registry holding the given embedders.
func NewRegistry(embedders ...Embedder) *Registry {
	r := &Registry{byModel: make(map[string]Embedder)}
	for _, e := range embedders {
		r.Register(e)
	}
	return r
}

// Register adds e under its model identifier, replacing any previous embedder.
func (r *Registry) Register(e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModel[e.Model()] = e
}

// Lookup returns the embedder registered for model.
func (r *Registry) Lookup(model string) (Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byModel[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return e, nil
}

// Models returns the registered model identifiers, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byModel))
	for m := range r.byModel {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Embed computes the embedding of text with the embedder registered for model.
func (r *Registry) Embed(ctx context.Context, text, model string) ([]float32, error) {
	e, err := r.Lookup(model)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// Close closes every registered embedder and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for m, e := range r.byModel {
		if err := e.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", m, err)
		}
	}
	return first
}

// embedEach implements EmbedBatch for backends that embed one text per call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
