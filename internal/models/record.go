package models

import "gonum.org/v1/gonum/mat"

// RunParams are the hyperparameters of one optimization run.
type RunParams struct {
	ModifiedEmbeddingLength int     `json:"modified_embedding_length" yaml:"modified_embedding_length"`
	BatchSize               int     `json:"batch_size" yaml:"batch_size"`
	MaxEpochs               int     `json:"max_epochs" yaml:"max_epochs"`
	LearningRate            float64 `json:"learning_rate" yaml:"learning_rate"`
	DropoutFraction         float64 `json:"dropout_fraction" yaml:"dropout_fraction"`
	// EarlyStoppingPatience stops training after this many epochs without a test
	// accuracy improvement. Zero disables early stopping.
	EarlyStoppingPatience int   `json:"early_stopping_patience,omitempty" yaml:"early_stopping_patience"`
	Seed                  int64 `json:"seed" yaml:"seed"`
}

// EpochRecord is the result of evaluating one split at the end of one epoch.
// Records are created once and never mutated; Matrix is a detached snapshot shared by
// the records of the same epoch and must be treated as read-only.
type EpochRecord struct {
	RunID         string     `json:"run_id"`
	Epoch         int        `json:"epoch"`
	Split         Split      `json:"type"`
	Loss          float64    `json:"loss"`
	Accuracy      float64    `json:"accuracy"`
	StandardError float64    `json:"standard_error"`
	Params        RunParams  `json:"params"`
	Matrix        *mat.Dense `json:"-"`
}
