// Package storage persists optimization runs so that results can be compared across
// invocations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/chosei/internal/models"
)

// ErrNotFound is returned when a requested run or record does not exist.
var ErrNotFound = errors.New("not found")

// RunSummary describes a stored run.
type RunSummary struct {
	ID           string           `json:"run_id"`
	Params       models.RunParams `json:"params"`
	StoppedEarly bool             `json:"stopped_early"`
	CreatedAt    time.Time        `json:"created_at"`
	// Epochs and BestAccuracy are derived from the stored records.
	Epochs       int     `json:"epochs"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// RunStore defines run and epoch record persistence operations.
type RunStore interface {
	// SaveRun stores a run and all of its records in one transaction.
	SaveRun(ctx context.Context, run RunSummary, records []models.EpochRecord) error
	ListRuns(ctx context.Context) ([]RunSummary, error)
	GetRun(ctx context.Context, id string) (*RunSummary, error)
	// GetRecords returns the records of a run in epoch order; matrices are loaded
	// only when withMatrices is set.
	GetRecords(ctx context.Context, runID string, withMatrices bool) ([]models.EpochRecord, error)
	// BestRecord returns the record with the highest accuracy across all runs, the
	// earliest stored one on ties. An empty split matches any split.
	BestRecord(ctx context.Context, split models.Split) (*models.EpochRecord, error)
	CountRuns(ctx context.Context) (int64, error)

	Close() error
}
