// Package vector provides similarity helpers for embedding vectors.
package vector

import (
	"gonum.org/v1/gonum/floats"
)

// normEpsilon clamps vector norms so that a zero projection yields similarity 0
// instead of NaN.
const normEpsilon = 1e-8

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// Mismatched or empty vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return Cosine64(ToFloat64(a), ToFloat64(b))
}

// Cosine64 is CosineSimilarity for float64 slices of equal length.
func Cosine64(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := max(floats.Norm(a, 2), normEpsilon)
	nb := max(floats.Norm(b, 2), normEpsilon)
	return floats.Dot(a, b) / (na * nb)
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return floats.Dot(ToFloat64(a), ToFloat64(b))
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	return floats.Norm(ToFloat64(x), 2)
}

// ToFloat64 widens a float32 slice for gonum.
func ToFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

// ToFloat32 narrows a float64 slice back to embedding precision.
func ToFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}
