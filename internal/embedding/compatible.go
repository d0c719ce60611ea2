package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// CompatibleEmbedder talks to a self-hosted OpenAI-compatible embedding server
// (Ollama, vLLM, LocalAI) through langchaingo.
type CompatibleEmbedder struct {
	embedder embeddings.Embedder
	model    string
	// dimensions is updated from responses, which may arrive concurrently.
	dimensions atomic.Int64
}

// NewCompatibleEmbedder connects to the server at host. Hosts without a /v1 suffix get
// one appended. Local servers usually ignore the token, so an empty token is sent as "none".
func NewCompatibleEmbedder(host, token, model string, dimensions int) (*CompatibleEmbedder, error) {
	if host == "" {
		return nil, fmt.Errorf("compatible embedder: host is required")
	}
	if model == "" {
		return nil, fmt.Errorf("compatible embedder: model is required")
	}
	if !strings.HasSuffix(host, "/v1") {
		host = strings.TrimSuffix(host, "/") + "/v1"
	}
	if token == "" {
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("compatible embedder: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("compatible embedder: %w", err)
	}
	e := &CompatibleEmbedder{embedder: embedder, model: model}
	e.dimensions.Store(int64(dimensions))
	return e, nil
}

// Embed returns the embedding of a single text.
func (e *CompatibleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	return out[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *CompatibleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(out) > 0 && len(out[0]) > 0 {
		e.dimensions.Store(int64(len(out[0])))
	}
	return out, nil
}

func (e *CompatibleEmbedder) Dimensions() int { return int(e.dimensions.Load()) }

func (e *CompatibleEmbedder) Model() string { return e.model }

func (e *CompatibleEmbedder) Close() error { return nil }
