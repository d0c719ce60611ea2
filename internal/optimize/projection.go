package optimize

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/models"
	"github.com/hyperjump/chosei/internal/vector"
)

// NewMatrix returns a rows×cols matrix with standard-normal entries drawn from rng.
func NewMatrix(rows, cols int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

// Project multiplies the row vector e by m.
func Project(m mat.Matrix, e []float32) []float64 {
	rows, cols := m.Dims()
	if len(e) != rows {
		return nil
	}
	out := mat.NewVecDense(cols, nil)
	out.MulVec(m.T(), mat.NewVecDense(rows, vector.ToFloat64(e)))
	return out.RawVector().Data
}

// Similarity returns the cosine similarity of a and b after projecting both by m.
func Similarity(m mat.Matrix, a, b []float32) float64 {
	return vector.Cosine64(Project(m, a), Project(m, b))
}

// Apply sets CustomCosineSimilarity on every pair from its embeddings projected by m.
func Apply(m mat.Matrix, pairs []models.TextPair) error {
	rows, _ := m.Dims()
	for i := range pairs {
		p := &pairs[i]
		if len(p.Embedding1) != rows || len(p.Embedding2) != rows {
			return fmt.Errorf("pair %d: embedding length %d/%d does not match matrix rows %d",
				i, len(p.Embedding1), len(p.Embedding2), rows)
		}
		p.CustomCosineSimilarity = Similarity(m, p.Embedding1, p.Embedding2)
	}
	return nil
}

// SaveMatrix writes m to path in gonum's binary format, replacing the file atomically.
func SaveMatrix(path string, m *mat.Dense) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode matrix: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create matrix directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadMatrix reads a matrix written by SaveMatrix.
func LoadMatrix(path string) (*mat.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode matrix %s: %w", path, err)
	}
	return &m, nil
}
