package embedding

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOpenAI     = "openai"
	ProviderCompatible = "compatible"
	ProviderONNX       = "onnx"
	ProviderMock       = "mock"
)

// Options selects and configures an embedding backend.
type Options struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Dimensions        int
	MaxTokens         int
	ModelPath         string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// New creates the embedder named by opts.Provider, wrapped in a rate limiter when
// opts.RequestsPerSecond is positive.
func New(opts Options) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(opts.Provider) {
	case ProviderOpenAI, "":
		e, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		})
	case ProviderCompatible:
		e, err = NewCompatibleEmbedder(opts.BaseURL, opts.APIKey, opts.Model, opts.Dimensions)
	case ProviderONNX:
		var onnx *ONNXEmbedder
		onnx, err = NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens)
		if err == nil {
			e = onnx
		}
	case ProviderMock:
		mock := NewMockEmbedder(opts.Dimensions)
		if opts.Model != "" {
			mock.WithModel(opts.Model)
		}
		e = mock
	default:
		return nil, fmt.Errorf("unknown embedding provider %q (supported: openai, compatible, onnx, mock)", opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRateLimited(e, opts.RequestsPerSecond), nil
}

// ModelID returns the model identifier New will report for opts without creating a
// client, so cached embeddings can be looked up offline.
func ModelID(opts Options) string {
	switch strings.ToLower(opts.Provider) {
	case ProviderONNX:
		return ONNXModelID(opts.ModelPath)
	case ProviderMock:
		if opts.Model == "" {
			return MockModel
		}
	}
	return opts.Model
}

// ONNXModelID returns the cache model identifier for an ONNX model file.
func ONNXModelID(modelPath string) string {
	base := filepath.Base(modelPath)
	return "onnx:" + strings.TrimSuffix(base, filepath.Ext(base))
}
