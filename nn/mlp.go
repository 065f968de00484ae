// Package nn implements the small dense networks the agents train: forward
// evaluation, backpropagation into per-layer gradients, global-norm
// clipping and plain gradient descent. Parameters are exported as named
// groups so they can be persisted and copied between networks.
package nn

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrMissingGroup  = errors.New("missing parameter group")
	ErrNonFinite     = errors.New("non-finite parameter")
)

type Activation int

const (
	Linear Activation = iota
	ReLU
	Tanh
)

func (a Activation) apply(v float64) float64 {
	switch a {
	case ReLU:
		if v > 0 {
			return v
		}
		return 0
	case Tanh:
		return math.Tanh(v)
	}
	return v
}

// derivative given the pre-activation and the activation output
func (a Activation) derivative(pre, out float64) float64 {
	switch a {
	case ReLU:
		if pre > 0 {
			return 1
		}
		return 0
	case Tanh:
		return 1 - out*out
	}
	return 1
}

// Layer is a fully connected layer computing act(W x + b)
type Layer struct {
	W   *mat.Dense
	B   *mat.VecDense
	Act Activation
}

// MLP is a feed-forward network, the last layer is always linear
type MLP struct {
	Layers []*Layer
}

// NewMLP builds a network with the given layer sizes, sizes[0] being the
// input width and sizes[len-1] the output width. Weights use He/Xavier
// scaled normal initialisation drawn from src.
func NewMLP(sizes []int, hidden Activation, src rand.Source) *MLP {
	if len(sizes) < 2 {
		panic("nn: an MLP needs at least an input and an output size")
	}
	m := &MLP{Layers: make([]*Layer, 0, len(sizes)-1)}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		act := hidden
		if i == len(sizes)-1 {
			act = Linear
		}
		sigma := math.Sqrt(1.0 / float64(in))
		if act == ReLU {
			sigma = math.Sqrt(2.0 / float64(in))
		}
		if i == len(sizes)-1 {
			// small output layer keeps early predictions near zero
			sigma *= 0.1
		}
		normal := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
		data := make([]float64, in*out)
		for j := range data {
			data[j] = normal.Rand()
		}
		m.Layers = append(m.Layers, &Layer{
			W:   mat.NewDense(out, in, data),
			B:   mat.NewVecDense(out, nil),
			Act: act,
		})
	}
	return m
}

func (m *MLP) InputSize() int {
	_, c := m.Layers[0].W.Dims()
	return c
}

func (m *MLP) OutputSize() int {
	r, _ := m.Layers[len(m.Layers)-1].W.Dims()
	return r
}

// Pass holds the intermediate values of one forward evaluation, needed by Backward
type Pass struct {
	inputs  []*mat.VecDense
	pre     []*mat.VecDense
	outputs []*mat.VecDense
}

// Output returns the network output of the pass
func (p *Pass) Output() []float64 {
	return p.outputs[len(p.outputs)-1].RawVector().Data
}

// ForwardPass evaluates the network on x and keeps what Backward needs
func (m *MLP) ForwardPass(x []float64) *Pass {
	if len(x) != m.InputSize() {
		panic(fmt.Sprintf("nn: input of length %d, expected %d", len(x), m.InputSize()))
	}
	p := &Pass{
		inputs:  make([]*mat.VecDense, len(m.Layers)),
		pre:     make([]*mat.VecDense, len(m.Layers)),
		outputs: make([]*mat.VecDense, len(m.Layers)),
	}
	cur := mat.NewVecDense(len(x), append([]float64(nil), x...))
	for i, l := range m.Layers {
		rows, _ := l.W.Dims()
		pre := mat.NewVecDense(rows, nil)
		pre.MulVec(l.W, cur)
		pre.AddVec(pre, l.B)
		out := mat.NewVecDense(rows, nil)
		for j := 0; j < rows; j++ {
			out.SetVec(j, l.Act.apply(pre.AtVec(j)))
		}
		p.inputs[i] = cur
		p.pre[i] = pre
		p.outputs[i] = out
		cur = out
	}
	return p
}

// Forward evaluates the network on x
func (m *MLP) Forward(x []float64) []float64 {
	return m.ForwardPass(x).Output()
}

// Backward propagates dOut, the loss gradient with respect to the output
// of pass p, and adds the parameter gradients into g.
func (m *MLP) Backward(p *Pass, dOut []float64, g *Gradients) {
	if len(dOut) != m.OutputSize() {
		panic(fmt.Sprintf("nn: output gradient of length %d, expected %d", len(dOut), m.OutputSize()))
	}
	delta := mat.NewVecDense(len(dOut), append([]float64(nil), dOut...))
	for i := len(m.Layers) - 1; i >= 0; i-- {
		l := m.Layers[i]
		rows, cols := l.W.Dims()
		dPre := mat.NewVecDense(rows, nil)
		for j := 0; j < rows; j++ {
			dPre.SetVec(j, delta.AtVec(j)*l.Act.derivative(p.pre[i].AtVec(j), p.outputs[i].AtVec(j)))
		}
		g.W[i].RankOne(g.W[i], 1, dPre, p.inputs[i])
		g.B[i].AddVec(g.B[i], dPre)
		if i > 0 {
			next := mat.NewVecDense(cols, nil)
			next.MulVec(l.W.T(), dPre)
			delta = next
		}
	}
}

// NewGradients returns zeroed gradients shaped like m
func (m *MLP) NewGradients() *Gradients {
	g := &Gradients{
		W: make([]*mat.Dense, len(m.Layers)),
		B: make([]*mat.VecDense, len(m.Layers)),
	}
	for i, l := range m.Layers {
		r, c := l.W.Dims()
		g.W[i] = mat.NewDense(r, c, nil)
		g.B[i] = mat.NewVecDense(r, nil)
	}
	return g
}

// Clone returns an independent deep copy
func (m *MLP) Clone() *MLP {
	out := &MLP{Layers: make([]*Layer, len(m.Layers))}
	for i, l := range m.Layers {
		out.Layers[i] = &Layer{
			W:   mat.DenseCopyOf(l.W),
			B:   mat.VecDenseCopyOf(l.B),
			Act: l.Act,
		}
	}
	return out
}

// CopyFrom overwrites m's parameters with a copy of src's
func (m *MLP) CopyFrom(src *MLP) error {
	if len(src.Layers) != len(m.Layers) {
		return ErrShapeMismatch
	}
	for i, l := range m.Layers {
		sr, sc := src.Layers[i].W.Dims()
		r, c := l.W.Dims()
		if sr != r || sc != c {
			return ErrShapeMismatch
		}
	}
	for i, l := range m.Layers {
		l.W.Copy(src.Layers[i].W)
		l.B.CopyVec(src.Layers[i].B)
	}
	return nil
}

// AllFinite reports whether every weight and bias is finite
func (m *MLP) AllFinite() bool {
	for _, l := range m.Layers {
		if !finite(l.W.RawMatrix().Data) || !finite(l.B.RawVector().Data) {
			return false
		}
	}
	return true
}

// Parameters exports the weights as named groups "<prefix>layer<i>.weights"
// and "<prefix>layer<i>.bias". The slices are copies.
func (m *MLP) Parameters(prefix string) map[string][]float64 {
	out := make(map[string][]float64, 2*len(m.Layers))
	for i, l := range m.Layers {
		out[groupName(prefix, i, "weights")] = append([]float64(nil), l.W.RawMatrix().Data...)
		out[groupName(prefix, i, "bias")] = append([]float64(nil), l.B.RawVector().Data...)
	}
	return out
}

// SetParameters imports groups produced by Parameters. Nothing is changed
// unless every group is present, correctly sized and finite.
func (m *MLP) SetParameters(prefix string, params map[string][]float64) error {
	for i, l := range m.Layers {
		r, c := l.W.Dims()
		for kind, size := range map[string]int{"weights": r * c, "bias": r} {
			name := groupName(prefix, i, kind)
			vals, ok := params[name]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMissingGroup, name)
			}
			if len(vals) != size {
				return fmt.Errorf("%w: %s has %d values, expected %d", ErrShapeMismatch, name, len(vals), size)
			}
			if !finite(vals) {
				return fmt.Errorf("%w: %s", ErrNonFinite, name)
			}
		}
	}
	for i, l := range m.Layers {
		copy(l.W.RawMatrix().Data, params[groupName(prefix, i, "weights")])
		copy(l.B.RawVector().Data, params[groupName(prefix, i, "bias")])
	}
	return nil
}

// flatten returns all parameters concatenated, used to measure update sizes
func (m *MLP) flatten() []float64 {
	out := make([]float64, 0)
	for _, l := range m.Layers {
		out = append(out, l.W.RawMatrix().Data...)
		out = append(out, l.B.RawVector().Data...)
	}
	return out
}

// Distance is the L2 norm of the parameter difference between m and other
func (m *MLP) Distance(other *MLP) float64 {
	return floats.Distance(m.flatten(), other.flatten(), 2)
}

// LimitDistance moves m back along the line towards origin until it is no
// further than maxDist away. origin must have the same shape as m. It
// returns the distance before the move.
func (m *MLP) LimitDistance(origin *MLP, maxDist float64) float64 {
	d := m.Distance(origin)
	if d <= maxDist || math.IsNaN(d) || math.IsInf(d, 0) {
		return d
	}
	scale := maxDist / d
	pull := func(dst, src []float64) {
		floats.Sub(dst, src)
		floats.Scale(scale, dst)
		floats.Add(dst, src)
	}
	for i, l := range m.Layers {
		o := origin.Layers[i]
		pull(l.W.RawMatrix().Data, o.W.RawMatrix().Data)
		pull(l.B.RawVector().Data, o.B.RawVector().Data)
	}
	return d
}

func groupName(prefix string, layer int, kind string) string {
	return fmt.Sprintf("%slayer%d.%s", prefix, layer, kind)
}

func finite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
