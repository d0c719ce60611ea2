package optimize

import (
	"context"
	"fmt"

	"github.com/hyperjump/chosei/internal/models"
)

// Sweep trains one run per configuration. Each configuration is seeded with
// base seed + its index so that runs are reproducible and independent.
func Sweep(ctx context.Context, train, test *Examples, baseSeed int64, configs []models.RunParams, opts ...Option) ([]*Run, error) {
	runs := make([]*Run, 0, len(configs))
	for i, params := range configs {
		params.Seed = baseSeed + int64(i)
		run, err := Train(ctx, train, test, params, opts...)
		if err != nil {
			return runs, fmt.Errorf("configuration %d (batch_size=%d learning_rate=%g): %w",
				i, params.BatchSize, params.LearningRate, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
