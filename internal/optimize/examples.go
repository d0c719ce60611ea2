package optimize

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/models"
)

// Examples holds the embeddings and labels of one split as row-aligned matrices.
type Examples struct {
	E1     *mat.Dense
	E2     *mat.Dense
	Target []float64
	Labels []models.Label
}

// NewExamples stacks the embeddings of pairs. Every pair must carry both embeddings
// with the same length.
func NewExamples(pairs []models.TextPair) (*Examples, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no pairs")
	}
	dim := len(pairs[0].Embedding1)
	if dim == 0 {
		return nil, fmt.Errorf("pair 0 has no embedding")
	}
	ex := &Examples{
		E1:     mat.NewDense(len(pairs), dim, nil),
		E2:     mat.NewDense(len(pairs), dim, nil),
		Target: make([]float64, len(pairs)),
		Labels: make([]models.Label, len(pairs)),
	}
	for i, p := range pairs {
		if len(p.Embedding1) != dim || len(p.Embedding2) != dim {
			return nil, fmt.Errorf("pair %d: embedding lengths %d/%d, want %d",
				i, len(p.Embedding1), len(p.Embedding2), dim)
		}
		r1, r2 := ex.E1.RawRowView(i), ex.E2.RawRowView(i)
		for j := 0; j < dim; j++ {
			r1[j] = float64(p.Embedding1[j])
			r2[j] = float64(p.Embedding2[j])
		}
		ex.Target[i] = p.Label.Float()
		ex.Labels[i] = p.Label
	}
	return ex, nil
}

// Len returns the number of examples.
func (e *Examples) Len() int {
	return len(e.Target)
}

// Dim returns the embedding length.
func (e *Examples) Dim() int {
	_, c := e.E1.Dims()
	return c
}
