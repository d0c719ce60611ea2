// Package evaluate scores cosine similarities against ±1 labels with a brute-force
// threshold sweep.
package evaluate

import (
	"errors"
	"fmt"
	"math"

	"github.com/hyperjump/chosei/internal/models"
)

const (
	// sweepSteps is the number of thresholds per unit; thresholds run from -1 to
	// 1-1/sweepSteps in steps of 1/sweepSteps.
	sweepSteps = 1000
	// ConfidenceZ scales the standard error into a 95% interval.
	ConfidenceZ = 1.96
)

// ErrEmptyInput is returned when there is nothing to evaluate.
var ErrEmptyInput = errors.New("evaluate: no similarities to score")

// Result is the best accuracy a single threshold achieves.
type Result struct {
	Accuracy      float64 `json:"accuracy"`
	StandardError float64 `json:"standard_error"`
	Threshold     float64 `json:"threshold"`
	N             int     `json:"n"`
}

// Interval returns the half-width of the 95% confidence interval.
func (r Result) Interval() float64 {
	return ConfidenceZ * r.StandardError
}

// String formats the result as "accuracy ± interval".
func (r Result) String() string {
	return fmt.Sprintf("%0.1f%% ± %0.1f%%", 100*r.Accuracy, 100*r.Interval())
}

// BestThresholdAccuracy predicts +1 when similarity > threshold and -1 otherwise for
// every threshold in the sweep, and returns the highest accuracy found with its binomial
// standard error. The sweep runs from the most negative threshold up and the first
// maximum wins.
func BestThresholdAccuracy(similarities []float64, labels []models.Label) (Result, error) {
	if len(similarities) != len(labels) {
		return Result{}, fmt.Errorf("evaluate: %d similarities for %d labels", len(similarities), len(labels))
	}
	n := len(similarities)
	if n == 0 {
		return Result{}, ErrEmptyInput
	}

	best := Result{Accuracy: -1, N: n}
	for k := -sweepSteps; k < sweepSteps; k++ {
		threshold := float64(k) / sweepSteps
		correct := 0
		for i, s := range similarities {
			prediction := models.Negative
			if s > threshold {
				prediction = models.Positive
			}
			if prediction == labels[i] {
				correct++
			}
		}
		accuracy := float64(correct) / float64(n)
		if accuracy > best.Accuracy {
			best.Accuracy = accuracy
			best.Threshold = threshold
		}
	}
	best.StandardError = math.Sqrt(best.Accuracy * (1 - best.Accuracy) / float64(n))
	return best, nil
}

// SimilarityFunc picks the similarity column to evaluate from a pair.
type SimilarityFunc func(p *models.TextPair) float64

// Raw selects the cosine similarity of the original embeddings.
func Raw(p *models.TextPair) float64 { return p.CosineSimilarity }

// Custom selects the cosine similarity of the projected embeddings.
func Custom(p *models.TextPair) float64 { return p.CustomCosineSimilarity }

// Pairs evaluates the chosen similarity column over pairs.
func Pairs(pairs []models.TextPair, pick SimilarityFunc) (Result, error) {
	sims := make([]float64, len(pairs))
	labels := make([]models.Label, len(pairs))
	for i := range pairs {
		sims[i] = pick(&pairs[i])
		labels[i] = pairs[i].Label
	}
	return BestThresholdAccuracy(sims, labels)
}

// Splits evaluates each split separately, keyed by split.
func Splits(pairs []models.TextPair, pick SimilarityFunc) (map[models.Split]Result, error) {
	out := make(map[models.Split]Result, len(models.Splits))
	for _, split := range models.Splits {
		res, err := Pairs(models.FilterSplit(pairs, split), pick)
		if err != nil {
			return nil, fmt.Errorf("%s split: %w", split, err)
		}
		out[split] = res
	}
	return out, nil
}
