// Package pipeline wires dataset preparation, cached embedding lookup, baseline
// evaluation, matrix optimization and result recording into one explicit flow.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/dataset"
	"github.com/hyperjump/chosei/internal/evaluate"
	"github.com/hyperjump/chosei/internal/models"
	"github.com/hyperjump/chosei/internal/optimize"
	"github.com/hyperjump/chosei/internal/recorder"
	"github.com/hyperjump/chosei/internal/storage"
	"github.com/hyperjump/chosei/internal/vector"
)

// Embeddings returns the embedding of a text under a model.
type Embeddings interface {
	Get(ctx context.Context, text, model string) ([]float32, error)
}

// warmer is implemented by embedding stores that can prefetch texts concurrently.
type warmer interface {
	Warm(ctx context.Context, texts []string, model string, workers int) (int, error)
}

// DataOptions describes where pairs come from and how they are split.
type DataOptions struct {
	Path      string
	Sheet     string
	Transform string
	MaxPairs  int
	Build     dataset.BuildOptions
}

// ResultOptions controls what is written after optimization.
type ResultOptions struct {
	Dir             string
	WriteCSV        bool
	WriteParquet    bool
	IncludeMatrices bool
}

// Pipeline runs the steps that need shared collaborators.
type Pipeline struct {
	embeddings Embeddings
	model      string
	workers    int
	store      storage.RunStore
	results    ResultOptions
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRunStore saves every run to store.
func WithRunStore(store storage.RunStore) Option {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithResults writes result files as described by opts.
func WithResults(opts ResultOptions) Option {
	return func(p *Pipeline) {
		p.results = opts
	}
}

// WithWorkers prefetches embeddings with up to n concurrent requests when the embedding
// store supports it.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.workers = n
	}
}

// New creates a pipeline that embeds texts with model through embeddings.
func New(embeddings Embeddings, model string, opts ...Option) *Pipeline {
	p := &Pipeline{
		embeddings: embeddings,
		model:      model,
		workers:    1,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare loads the table, converts it to pairs, truncates it and builds the train and
// test splits with synthetic negatives.
func Prepare(opts DataOptions) ([]models.TextPair, error) {
	transform, err := dataset.LookupTransform(opts.Transform)
	if err != nil {
		return nil, err
	}
	table, err := dataset.Load(opts.Path, opts.Sheet)
	if err != nil {
		return nil, err
	}
	pairs, err := transform(table)
	if err != nil {
		return nil, fmt.Errorf("%s transform: %w", opts.Transform, err)
	}
	pairs = dataset.Head(pairs, opts.MaxPairs)
	return dataset.Build(pairs, opts.Build)
}

// Embed attaches both embeddings and their cosine similarity to every pair.
func (p *Pipeline) Embed(ctx context.Context, pairs []models.TextPair) error {
	if w, ok := p.embeddings.(warmer); ok && p.workers > 1 {
		if _, err := w.Warm(ctx, dataset.Texts(pairs), p.model, p.workers); err != nil {
			return err
		}
	}
	for i := range pairs {
		pair := &pairs[i]
		e1, err := p.embeddings.Get(ctx, pair.Text1, p.model)
		if err != nil {
			return err
		}
		e2, err := p.embeddings.Get(ctx, pair.Text2, p.model)
		if err != nil {
			return err
		}
		pair.Embedding1, pair.Embedding2 = e1, e2
		pair.CosineSimilarity = vector.CosineSimilarity(e1, e2)
	}
	p.logger.Debug("embedded pairs", zap.Int("pairs", len(pairs)), zap.String("model", p.model))
	return nil
}

// Baseline evaluates the raw cosine similarity of each split.
func Baseline(pairs []models.TextPair) (map[models.Split]evaluate.Result, error) {
	return evaluate.Splits(pairs, evaluate.Raw)
}

// Outcome is the result of an optimization sweep.
type Outcome struct {
	Runs  []*optimize.Run
	Table *recorder.Table
	// Best is the record with the highest accuracy; zero when no epoch was run.
	Best    models.EpochRecord
	HasBest bool
	// Matrix is Best.Matrix, or the initial matrix of the first run when no epoch was run.
	Matrix *mat.Dense
	Files  []string
}

// Optimize trains one run per configuration on the embedded pairs, records every epoch
// and selects the best matrix.
func (p *Pipeline) Optimize(ctx context.Context, pairs []models.TextPair, seed int64, configs []models.RunParams) (*Outcome, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no training configurations")
	}
	train, err := optimize.NewExamples(models.FilterSplit(pairs, models.SplitTrain))
	if err != nil {
		return nil, fmt.Errorf("train examples: %w", err)
	}
	test, err := optimize.NewExamples(models.FilterSplit(pairs, models.SplitTest))
	if err != nil {
		return nil, fmt.Errorf("test examples: %w", err)
	}

	runs, err := optimize.Sweep(ctx, train, test, seed, configs, optimize.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}

	out := &Outcome{Runs: runs, Table: recorder.NewTable()}
	for _, run := range runs {
		out.Table.Add(run.Records...)
		if err := p.record(ctx, run, out); err != nil {
			return nil, err
		}
	}
	if p.results.WriteParquet {
		path := filepath.Join(p.results.Dir, "optimization_results.parquet")
		if err := recorder.WriteParquetFile(path, out.Table.Records(), p.results.IncludeMatrices); err != nil {
			return nil, fmt.Errorf("failed to write parquet results: %w", err)
		}
		out.Files = append(out.Files, path)
	}

	out.Best, out.HasBest = out.Table.Best("")
	if out.HasBest {
		out.Matrix = out.Best.Matrix
		p.logger.Info("best run",
			zap.String("run_id", out.Best.RunID),
			zap.Int("epoch", out.Best.Epoch),
			zap.String("type", string(out.Best.Split)),
			zap.Float64("accuracy", out.Best.Accuracy))
	} else {
		out.Matrix = runs[0].Initial
	}
	return out, nil
}

func (p *Pipeline) record(ctx context.Context, run *optimize.Run, out *Outcome) error {
	if p.results.WriteCSV {
		path, err := recorder.WriteCSVFile(p.results.Dir, run.ID, run.Records, p.results.IncludeMatrices)
		if err != nil {
			return fmt.Errorf("failed to write results for run %s: %w", run.ID, err)
		}
		out.Files = append(out.Files, path)
	}
	if p.store != nil {
		summary := storage.RunSummary{
			ID:           run.ID,
			Params:       run.Params,
			StoppedEarly: run.StoppedEarly,
			CreatedAt:    time.Now(),
		}
		if err := p.store.SaveRun(ctx, summary, run.Records); err != nil {
			return fmt.Errorf("failed to save run %s: %w", run.ID, err)
		}
	}
	return nil
}

// Report compares test accuracy before and after applying the best matrix.
type Report struct {
	Baseline map[models.Split]evaluate.Result `json:"baseline"`
	Custom   map[models.Split]evaluate.Result `json:"custom,omitempty"`
	BestRun  string                           `json:"best_run_id,omitempty"`
	Best     *models.EpochRecord              `json:"best,omitempty"`
	Files    []string                         `json:"files,omitempty"`
}

// Apply projects every pair with m and reports accuracy before and after.
func Apply(m mat.Matrix, pairs []models.TextPair, baseline map[models.Split]evaluate.Result) (*Report, error) {
	if err := optimize.Apply(m, pairs); err != nil {
		return nil, err
	}
	custom, err := evaluate.Splits(pairs, evaluate.Custom)
	if err != nil {
		return nil, err
	}
	return &Report{Baseline: baseline, Custom: custom}, nil
}

// Run executes the whole flow on prepared pairs: embed, baseline, optimize, apply the
// best matrix and save it to matrixPath when set.
func (p *Pipeline) Run(ctx context.Context, pairs []models.TextPair, seed int64, configs []models.RunParams, matrixPath string) (*Report, error) {
	if err := p.Embed(ctx, pairs); err != nil {
		return nil, err
	}
	baseline, err := Baseline(pairs)
	if err != nil {
		return nil, err
	}
	for _, split := range models.Splits {
		p.logger.Info(fmt.Sprintf("%s accuracy: %s", split, baseline[split]))
	}

	outcome, err := p.Optimize(ctx, pairs, seed, configs)
	if err != nil {
		return nil, err
	}
	report, err := Apply(outcome.Matrix, pairs, baseline)
	if err != nil {
		return nil, err
	}
	report.Files = outcome.Files
	if outcome.HasBest {
		best := outcome.Best
		report.Best = &best
		report.BestRun = best.RunID
	}
	if matrixPath != "" {
		if err := optimize.SaveMatrix(matrixPath, outcome.Matrix); err != nil {
			return nil, fmt.Errorf("failed to save matrix: %w", err)
		}
		report.Files = append(report.Files, matrixPath)
	}
	return report, nil
}
