package optimize

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const normEpsilon = 1e-8

// parameter is a trainable matrix together with its accumulated gradient.
type parameter struct {
	value *mat.Dense
	grad  *mat.Dense
}

func newParameter(value *mat.Dense) *parameter {
	r, c := value.Dims()
	return &parameter{value: value, grad: mat.NewDense(r, c, nil)}
}

// step applies value -= lr·grad.
func (p *parameter) step(lr float64) {
	var delta mat.Dense
	delta.Scale(lr, p.grad)
	p.value.Sub(p.value, &delta)
}

func (p *parameter) zeroGrad() {
	p.grad.Zero()
}

// similarities returns the cosine similarity of each row pair of a·m and b·m.
func similarities(m, a, b mat.Matrix) []float64 {
	var u, v mat.Dense
	u.Mul(a, m)
	v.Mul(b, m)
	n, _ := u.Dims()
	out := make([]float64, n)
	for i := range out {
		ur, vr := u.RawRowView(i), v.RawRowView(i)
		nu := max(floats.Norm(ur, 2), normEpsilon)
		nv := max(floats.Norm(vr, 2), normEpsilon)
		out[i] = floats.Dot(ur, vr) / (nu * nv)
	}
	return out
}

// meanSquaredError returns mean((s-y)²).
func meanSquaredError(s, y []float64) float64 {
	var sum float64
	for i := range s {
		d := s[i] - y[i]
		sum += d * d
	}
	return sum / float64(len(s))
}

// lossAndGrad computes the mean squared error between cos(a·m, b·m) and y and adds its
// gradient with respect to m into grad.
func lossAndGrad(m, a, b *mat.Dense, y []float64, grad *mat.Dense) float64 {
	var u, v mat.Dense
	u.Mul(a, m)
	v.Mul(b, m)
	n, cols := u.Dims()
	gu := mat.NewDense(n, cols, nil)
	gv := mat.NewDense(n, cols, nil)

	var loss float64
	for i := 0; i < n; i++ {
		ur, vr := u.RawRowView(i), v.RawRowView(i)
		nu := max(floats.Norm(ur, 2), normEpsilon)
		nv := max(floats.Norm(vr, 2), normEpsilon)
		s := floats.Dot(ur, vr) / (nu * nv)
		d := s - y[i]
		loss += d * d

		g := 2 * d / float64(n)
		gur, gvr := gu.RawRowView(i), gv.RawRowView(i)
		for j := 0; j < cols; j++ {
			gur[j] = g * (vr[j]/(nu*nv) - s*ur[j]/(nu*nu))
			gvr[j] = g * (ur[j]/(nu*nv) - s*vr[j]/(nv*nv))
		}
	}

	var ga, gb mat.Dense
	ga.Mul(a.T(), gu)
	gb.Mul(b.T(), gv)
	grad.Add(grad, &ga)
	grad.Add(grad, &gb)
	return loss / float64(n)
}
