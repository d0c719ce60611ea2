// Package optimize trains a projection matrix so that the cosine similarity of projected
// embedding pairs approaches their ±1 labels.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/evaluate"
	"github.com/hyperjump/chosei/internal/models"
)

// ErrInvalidParams is returned when run parameters cannot be trained with.
var ErrInvalidParams = errors.New("invalid run parameters")

// Run is the outcome of one training run.
type Run struct {
	ID      string
	Params  models.RunParams
	Records []models.EpochRecord
	// Initial is a snapshot of the randomly initialised matrix.
	Initial *mat.Dense
	// Final is a snapshot of the matrix after the last completed epoch.
	Final        *mat.Dense
	StoppedEarly bool
}

// Best returns the record with the highest accuracy, the first one on ties, and false
// when the run has no records.
func (r *Run) Best() (models.EpochRecord, bool) {
	best, ok := models.EpochRecord{}, false
	for _, rec := range r.Records {
		if !ok || rec.Accuracy > best.Accuracy {
			best, ok = rec, true
		}
	}
	return best, ok
}

// BestMatrix returns the matrix of the best record, or the initial matrix when no epoch
// was run.
func (r *Run) BestMatrix() *mat.Dense {
	if best, ok := r.Best(); ok {
		return best.Matrix
	}
	return r.Initial
}

// Option configures training.
type Option func(*trainer)

// WithLogger logs per-epoch accuracies.
func WithLogger(logger *zap.Logger) Option {
	return func(t *trainer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithProgress calls fn with each record as soon as it is created.
func WithProgress(fn func(models.EpochRecord)) Option {
	return func(t *trainer) {
		t.progress = fn
	}
}

type trainer struct {
	logger   *zap.Logger
	progress func(models.EpochRecord)
}

// Validate checks that params can be trained with.
func Validate(params models.RunParams) error {
	switch {
	case params.ModifiedEmbeddingLength <= 0:
		return fmt.Errorf("%w: modified_embedding_length must be positive", ErrInvalidParams)
	case params.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidParams)
	case params.MaxEpochs < 0:
		return fmt.Errorf("%w: max_epochs must not be negative", ErrInvalidParams)
	case params.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive", ErrInvalidParams)
	case params.DropoutFraction < 0 || params.DropoutFraction >= 1:
		return fmt.Errorf("%w: dropout_fraction must be in [0, 1)", ErrInvalidParams)
	case params.EarlyStoppingPatience < 0:
		return fmt.Errorf("%w: early_stopping_patience must not be negative", ErrInvalidParams)
	}
	return nil
}

// Train fits a projection matrix on train with mini-batch gradient descent and evaluates
// both splits after every epoch. The matrix is initialised from a standard normal
// distribution; params.Seed drives initialisation, shuffling and dropout.
func Train(ctx context.Context, train, test *Examples, params models.RunParams, opts ...Option) (*Run, error) {
	if err := Validate(params); err != nil {
		return nil, err
	}
	if train == nil || train.Len() == 0 || test == nil || test.Len() == 0 {
		return nil, fmt.Errorf("train and test examples are required")
	}
	if train.Dim() != test.Dim() {
		return nil, fmt.Errorf("train embeddings have length %d, test %d", train.Dim(), test.Dim())
	}
	t := &trainer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}

	rng := rand.New(rand.NewSource(params.Seed))
	matrix := newParameter(NewMatrix(train.Dim(), params.ModifiedEmbeddingLength, rng))
	run := &Run{
		ID:      uuid.New().String(),
		Params:  params,
		Initial: mat.DenseCopyOf(matrix.value),
	}
	run.Final = run.Initial
	t.logger.Debug("starting run", zap.String("run_id", run.ID), zap.Any("params", params))

	bestTest, sinceImproved := -1.0, 0
	for epoch := 1; epoch <= params.MaxEpochs; epoch++ {
		trainLoss, err := t.epoch(ctx, matrix, train, params, rng)
		if err != nil {
			return run, err
		}
		snapshot := mat.DenseCopyOf(matrix.value)
		run.Final = snapshot

		testSims := similarities(snapshot, test.E1, test.E2)
		evals := []struct {
			split models.Split
			loss  float64
			sims  []float64
			ex    *Examples
		}{
			{models.SplitTrain, trainLoss, similarities(snapshot, train.E1, train.E2), train},
			{models.SplitTest, meanSquaredError(testSims, test.Target), testSims, test},
		}
		for _, e := range evals {
			res, err := evaluate.BestThresholdAccuracy(e.sims, e.ex.Labels)
			if err != nil {
				return run, err
			}
			rec := models.EpochRecord{
				RunID:         run.ID,
				Epoch:         epoch,
				Split:         e.split,
				Loss:          e.loss,
				Accuracy:      res.Accuracy,
				StandardError: res.StandardError,
				Params:        params,
				Matrix:        snapshot,
			}
			run.Records = append(run.Records, rec)
			t.logger.Info(fmt.Sprintf("Epoch %d/%d: %s accuracy: %s", epoch, params.MaxEpochs, e.split, res),
				zap.String("run_id", run.ID), zap.Float64("loss", e.loss))
			if t.progress != nil {
				t.progress(rec)
			}
			if e.split == models.SplitTest {
				if res.Accuracy > bestTest {
					bestTest, sinceImproved = res.Accuracy, 0
				} else {
					sinceImproved++
				}
			}
		}
		if params.EarlyStoppingPatience > 0 && sinceImproved >= params.EarlyStoppingPatience {
			run.StoppedEarly = true
			t.logger.Info("stopping early",
				zap.String("run_id", run.ID), zap.Int("epoch", epoch), zap.Float64("best_test_accuracy", bestTest))
			break
		}
	}
	return run, nil
}

// epoch runs one shuffled pass over train and returns the loss of the last mini-batch.
func (t *trainer) epoch(ctx context.Context, p *parameter, train *Examples, params models.RunParams, rng *rand.Rand) (float64, error) {
	n, dim := train.Len(), train.Dim()
	order := rng.Perm(n)
	var loss float64
	for start := 0; start < n; start += params.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		idx := order[start:min(start+params.BatchSize, n)]
		a := mat.NewDense(len(idx), dim, nil)
		b := mat.NewDense(len(idx), dim, nil)
		y := make([]float64, len(idx))
		for i, j := range idx {
			dropout(a.RawRowView(i), train.E1.RawRowView(j), params.DropoutFraction, rng)
			dropout(b.RawRowView(i), train.E2.RawRowView(j), params.DropoutFraction, rng)
			y[i] = train.Target[j]
		}
		loss = lossAndGrad(p.value, a, b, y, p.grad)
		p.step(params.LearningRate)
		p.zeroGrad()
	}
	return loss, nil
}

// dropout copies src into dst, zeroing each element with probability frac and scaling
// the survivors by 1/(1-frac).
func dropout(dst, src []float64, frac float64, rng *rand.Rand) {
	if frac == 0 {
		copy(dst, src)
		return
	}
	scale := 1 / (1 - frac)
	for i, x := range src {
		if rng.Float64() < frac {
			dst[i] = 0
		} else {
			dst[i] = x * scale
		}
	}
}
