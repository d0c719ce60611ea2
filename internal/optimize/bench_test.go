package optimize

import (
	"context"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/models"
)

func BenchmarkLossAndGrad(b *testing.B) {
	ex, err := NewExamples(syntheticPairs(100, 384, 1))
	if err != nil {
		b.Fatal(err)
	}
	m := NewMatrix(384, 256, rand.New(rand.NewSource(1)))
	grad := mat.NewDense(384, 256, nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = lossAndGrad(m, ex.E1, ex.E2, ex.Target, grad)
	}
}

func BenchmarkTrainEpoch(b *testing.B) {
	train, err := NewExamples(syntheticPairs(200, 64, 2))
	if err != nil {
		b.Fatal(err)
	}
	test, err := NewExamples(syntheticPairs(200, 64, 3))
	if err != nil {
		b.Fatal(err)
	}
	params := models.RunParams{
		ModifiedEmbeddingLength: 128,
		BatchSize:               10,
		MaxEpochs:               1,
		LearningRate:            10,
		DropoutFraction:         0.2,
		Seed:                    1,
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Train(ctx, train, test, params); err != nil {
			b.Fatal(err)
		}
	}
}
