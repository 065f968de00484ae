package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Gradients mirrors the parameter layout of one MLP
type Gradients struct {
	W []*mat.Dense
	B []*mat.VecDense
}

func (g *Gradients) each(fn func([]float64)) {
	for i := range g.W {
		fn(g.W[i].RawMatrix().Data)
		fn(g.B[i].RawVector().Data)
	}
}

// Scale multiplies every gradient by f
func (g *Gradients) Scale(f float64) {
	g.each(func(s []float64) { floats.Scale(f, s) })
}

// Zero resets the gradients
func (g *Gradients) Zero() {
	g.each(func(s []float64) {
		for i := range s {
			s[i] = 0
		}
	})
}

// Norm is the global L2 norm over all parameter groups
func (g *Gradients) Norm() float64 {
	sum := 0.0
	g.each(func(s []float64) { sum += floats.Dot(s, s) })
	return math.Sqrt(sum)
}

// AllFinite reports whether every gradient entry is finite
func (g *Gradients) AllFinite() bool {
	ok := true
	g.each(func(s []float64) {
		if ok && !finite(s) {
			ok = false
		}
	})
	return ok
}

// ClipByGlobalNorm rescales the gradients so that their global norm does
// not exceed maxNorm and returns the norm measured before clipping.
// A non-positive maxNorm disables clipping.
func ClipByGlobalNorm(maxNorm float64, grads ...*Gradients) float64 {
	sum := 0.0
	for _, g := range grads {
		n := g.Norm()
		sum += n * n
	}
	norm := math.Sqrt(sum)
	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / norm
		for _, g := range grads {
			g.Scale(scale)
		}
	}
	return norm
}

// SGD applies plain gradient descent, the parameter change of one Apply
// is exactly LearningRate times the gradient
type SGD struct {
	LearningRate float64
}

func (o *SGD) Apply(m *MLP, g *Gradients) {
	for i, l := range m.Layers {
		floats.AddScaled(l.W.RawMatrix().Data, -o.LearningRate, g.W[i].RawMatrix().Data)
		floats.AddScaled(l.B.RawVector().Data, -o.LearningRate, g.B[i].RawVector().Data)
	}
}
