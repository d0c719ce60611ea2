package recorder

import (
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/models"
)

// Row is the flat form of an EpochRecord written to result files.
type Row struct {
	RunID                   string  `parquet:"run_id"`
	Epoch                   int64   `parquet:"epoch"`
	Type                    string  `parquet:"type"`
	Loss                    float64 `parquet:"loss"`
	Accuracy                float64 `parquet:"accuracy"`
	ModifiedEmbeddingLength int64   `parquet:"modified_embedding_length"`
	BatchSize               int64   `parquet:"batch_size"`
	MaxEpochs               int64   `parquet:"max_epochs"`
	LearningRate            float64 `parquet:"learning_rate"`
	DropoutFraction         float64 `parquet:"dropout_fraction"`
	// Matrix is the base64 of the matrix in gonum binary format, empty when omitted.
	Matrix string `parquet:"matrix"`
}

var header = []string{
	"run_id", "epoch", "type", "loss", "accuracy",
	"modified_embedding_length", "batch_size", "max_epochs", "learning_rate", "dropout_fraction",
	"matrix",
}

// Rows flattens records. Matrices are encoded only when withMatrix is set.
func Rows(records []models.EpochRecord, withMatrix bool) ([]Row, error) {
	rows := make([]Row, len(records))
	encoded := make(map[*mat.Dense]string)
	for i, rec := range records {
		row := Row{
			RunID:                   rec.RunID,
			Epoch:                   int64(rec.Epoch),
			Type:                    string(rec.Split),
			Loss:                    rec.Loss,
			Accuracy:                rec.Accuracy,
			ModifiedEmbeddingLength: int64(rec.Params.ModifiedEmbeddingLength),
			BatchSize:               int64(rec.Params.BatchSize),
			MaxEpochs:               int64(rec.Params.MaxEpochs),
			LearningRate:            rec.Params.LearningRate,
			DropoutFraction:         rec.Params.DropoutFraction,
		}
		if withMatrix && rec.Matrix != nil {
			s, ok := encoded[rec.Matrix]
			if !ok {
				data, err := rec.Matrix.MarshalBinary()
				if err != nil {
					return nil, fmt.Errorf("run %s epoch %d: %w", rec.RunID, rec.Epoch, err)
				}
				s = base64.StdEncoding.EncodeToString(data)
				encoded[rec.Matrix] = s
			}
			row.Matrix = s
		}
		rows[i] = row
	}
	return rows, nil
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []models.EpochRecord, withMatrix bool) error {
	rows, err := Rows(records, withMatrix)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.RunID,
			strconv.FormatInt(r.Epoch, 10),
			r.Type,
			strconv.FormatFloat(r.Loss, 'g', -1, 64),
			strconv.FormatFloat(r.Accuracy, 'g', -1, 64),
			strconv.FormatInt(r.ModifiedEmbeddingLength, 10),
			strconv.FormatInt(r.BatchSize, 10),
			strconv.FormatInt(r.MaxEpochs, 10),
			strconv.FormatFloat(r.LearningRate, 'g', -1, 64),
			strconv.FormatFloat(r.DropoutFraction, 'g', -1, 64),
			r.Matrix,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVFileName returns the result file name for a run.
func CSVFileName(runID string) string {
	return runID + "_optimization_results.csv"
}

// WriteCSVFile writes the records of one run to dir/<run_id>_optimization_results.csv and
// returns the path.
func WriteCSVFile(dir, runID string, records []models.EpochRecord, withMatrix bool) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	path := filepath.Join(dir, CSVFileName(runID))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteCSV(f, records, withMatrix); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// WriteParquetFile writes records to a Parquet file at path.
func WriteParquetFile(path string, records []models.EpochRecord, withMatrix bool) error {
	rows, err := Rows(records, withMatrix)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	return parquet.WriteFile(path, rows)
}
