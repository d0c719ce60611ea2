//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxInputNames are the inputs of a BERT-style sentence embedding model, in the order
// SimpleTokenizer produces them.
var onnxInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

// ONNXEmbedder uses ONNX Runtime to produce embeddings locally. It requires CGO and the
// onnxruntime shared library.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	model      string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	// Bound to the session: Embed overwrites inputs in place and reads output.
	inputs []*ort.Tensor[int64]
	output *ort.Tensor[float32]
	mu     sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder for the model file at modelPath. The model
// identifier is "onnx:" followed by the file name without extension.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if dimensions <= 0 || maxTokens <= 0 {
		return nil, fmt.Errorf("onnx embedder: dimensions and max tokens must be positive")
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	e := &ONNXEmbedder{
		model:      ONNXModelID(modelPath),
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &SimpleTokenizer{},
	}
	shape := ort.NewShape(1, int64(maxTokens))
	args := make([]ort.ArbitraryTensor, 0, len(onnxInputNames))
	for _, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		e.inputs = append(e.inputs, t)
		args = append(args, t)
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.output = out

	e.session, err = ort.NewAdvancedSession(
		modelPath,
		onnxInputNames,
		[]string{"output"},
		args,
		[]ort.ArbitraryTensor{out},
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	return e, nil
}

// Embed runs the model on text and returns the unit-normalized output vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder %s is closed", e.model)
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	for i, data := range [][]int64{inputIDs, attentionMask, tokenTypeIDs} {
		copy(e.inputs[i].GetData(), data)
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.output.GetData())
	NormalizeL2Slice(embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text; the session holds a single input slot.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Model returns the model identifier derived from the model file name.
func (e *ONNXEmbedder) Model() string {
	return e.model
}

// Close destroys the session and every tensor bound to it. It is safe to call twice.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range e.inputs {
		_ = t.Destroy()
	}
	e.inputs = nil
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
