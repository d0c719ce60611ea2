package embedding

import (
	"context"
	"math"
	"sync/atomic"
)

// MockModel is the model identifier reported by a MockEmbedder by default.
const MockModel = "mock"

// MockEmbedder is a deterministic embedder for tests. It returns a fixed-dimension
// vector derived from the text hash so that the same text always gets the same embedding.
// EmbedFunc, when set, replaces the default behaviour (e.g. to inject failures).
type MockEmbedder struct {
	dimensions int
	model      string
	calls      atomic.Int64

	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, model: MockModel}
}

// WithModel sets the reported model identifier and returns e.
func (e *MockEmbedder) WithModel(model string) *MockEmbedder {
	e.model = model
	return e
}

// Embed returns a deterministic unit-length embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.EmbedFunc != nil {
		return e.EmbedFunc(ctx, text)
	}
	h := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	NormalizeL2Slice(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model identifier.
func (e *MockEmbedder) Model() string {
	return e.model
}

// Calls returns how many times Embed has been called.
func (e *MockEmbedder) Calls() int {
	return int(e.calls.Load())
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
