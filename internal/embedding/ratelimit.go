package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps an Embedder so that calls never exceed a fixed request rate.
// Each Embed or EmbedBatch call counts as one request.
type RateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// NewRateLimited limits e to perSecond requests per second. A non-positive rate
// returns e unchanged.
func NewRateLimited(e Embedder, perSecond float64) Embedder {
	if perSecond <= 0 {
		return e
	}
	return &RateLimited{Embedder: e, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Embed waits for the limiter, then delegates.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.Embed(ctx, text)
}

// EmbedBatch waits for the limiter, then delegates.
func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Embedder.EmbedBatch(ctx, texts)
}
