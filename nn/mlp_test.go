package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func squaredLoss(m *MLP, x, target []float64) float64 {
	out := m.Forward(x)
	loss := 0.0
	for i := range out {
		d := out[i] - target[i]
		loss += d * d
	}
	return loss
}

func TestBackwardMatchesNumericalGradient(t *testing.T) {
	for _, act := range []Activation{Tanh, ReLU} {
		m := NewMLP([]int{3, 5, 2}, act, rand.NewSource(7))
		x := []float64{0.3, -0.7, 1.1}
		target := []float64{0.5, -0.25}

		pass := m.ForwardPass(x)
		out := pass.Output()
		dOut := make([]float64, len(out))
		for i := range out {
			dOut[i] = 2 * (out[i] - target[i])
		}
		g := m.NewGradients()
		m.Backward(pass, dOut, g)

		const eps = 1e-6
		for li, l := range m.Layers {
			data := l.W.RawMatrix().Data
			for j := range data {
				orig := data[j]
				data[j] = orig + eps
				up := squaredLoss(m, x, target)
				data[j] = orig - eps
				down := squaredLoss(m, x, target)
				data[j] = orig
				numeric := (up - down) / (2 * eps)
				analytic := g.W[li].RawMatrix().Data[j]
				assert.InDelta(t, numeric, analytic, 1e-4, "layer %d weight %d", li, j)
			}
		}
	}
}

func TestClipByGlobalNormBoundsNorm(t *testing.T) {
	m := NewMLP([]int{2, 4, 1}, ReLU, rand.NewSource(1))
	g := m.NewGradients()
	g.each(func(s []float64) {
		for i := range s {
			s[i] = 1e6
		}
	})

	before := ClipByGlobalNorm(1.0, g)
	assert.Greater(t, before, 1.0)
	assert.InDelta(t, 1.0, g.Norm(), 1e-9)

	small := m.NewGradients()
	small.W[0].Set(0, 0, 0.1)
	norm := ClipByGlobalNorm(1.0, small)
	assert.InDelta(t, 0.1, norm, 1e-12)
	assert.InDelta(t, 0.1, small.W[0].At(0, 0), 1e-12)
}

func TestSGDUpdateIsBoundedByClip(t *testing.T) {
	m := NewMLP([]int{4, 8, 3}, ReLU, rand.NewSource(3))
	before := m.Clone()
	pass := m.ForwardPass([]float64{1, 2, 3, 4})
	g := m.NewGradients()
	m.Backward(pass, []float64{1e6, -1e6, 1e6}, g)

	const clip, lr = 0.5, 0.01
	ClipByGlobalNorm(clip, g)
	(&SGD{LearningRate: lr}).Apply(m, g)

	assert.True(t, m.AllFinite())
	assert.LessOrEqual(t, m.Distance(before), clip*lr+1e-12)
}

func TestLimitDistanceBoundsRepeatedUpdates(t *testing.T) {
	m := NewMLP([]int{4, 8, 3}, ReLU, rand.NewSource(3))
	start := m.Clone()
	const clip, lr = 0.5, 0.01
	for i := 0; i < 4; i++ {
		pass := m.ForwardPass([]float64{1, 2, 3, 4})
		g := m.NewGradients()
		m.Backward(pass, []float64{1e6, -1e6, 1e6}, g)
		ClipByGlobalNorm(clip, g)
		(&SGD{LearningRate: lr}).Apply(m, g)
	}
	moved := m.Clone()
	require.Greater(t, m.Distance(start), clip*lr)

	before := m.LimitDistance(start, clip*lr)
	assert.InDelta(t, moved.Distance(start), before, 1e-12)
	assert.InDelta(t, clip*lr, m.Distance(start), 1e-12)

	// the limited update keeps the direction of the full one
	scale := clip * lr / before
	full := moved.Layers[0].W.At(0, 0) - start.Layers[0].W.At(0, 0)
	limited := m.Layers[0].W.At(0, 0) - start.Layers[0].W.At(0, 0)
	assert.InDelta(t, full*scale, limited, 1e-12)
}

func TestLimitDistanceKeepsSmallUpdates(t *testing.T) {
	m := NewMLP([]int{2, 3, 2}, Tanh, rand.NewSource(5))
	start := m.Clone()
	m.Layers[1].B.SetVec(0, m.Layers[1].B.AtVec(0)+0.001)
	moved := m.Clone()

	m.LimitDistance(start, 1)
	assert.Zero(t, m.Distance(moved))
}

func TestCloneIsIndependent(t *testing.T) {
	m := NewMLP([]int{2, 3, 2}, Tanh, rand.NewSource(5))
	c := m.Clone()
	m.Layers[0].W.Set(0, 0, 42)
	assert.NotEqual(t, 42.0, c.Layers[0].W.At(0, 0))

	require.NoError(t, c.CopyFrom(m))
	assert.Equal(t, 42.0, c.Layers[0].W.At(0, 0))
	m.Layers[0].W.Set(0, 0, 7)
	assert.Equal(t, 42.0, c.Layers[0].W.At(0, 0))
}

func TestCopyFromRejectsOtherShapes(t *testing.T) {
	a := NewMLP([]int{2, 3, 2}, Tanh, rand.NewSource(5))
	b := NewMLP([]int{2, 4, 2}, Tanh, rand.NewSource(5))
	assert.ErrorIs(t, a.CopyFrom(b), ErrShapeMismatch)
}

func TestSetParametersValidatesBeforeWriting(t *testing.T) {
	m := NewMLP([]int{2, 3, 1}, ReLU, rand.NewSource(9))
	params := m.Parameters("q/")
	require.Len(t, params, 4)

	other := NewMLP([]int{2, 3, 1}, ReLU, rand.NewSource(10))
	require.NoError(t, other.SetParameters("q/", params))
	assert.Equal(t, 0.0, other.Distance(m))

	bad := m.Parameters("q/")
	bad["q/layer1.bias"] = []float64{math.NaN()}
	snapshot := other.Clone()
	assert.ErrorIs(t, other.SetParameters("q/", bad), ErrNonFinite)
	assert.Equal(t, 0.0, other.Distance(snapshot))

	delete(bad, "q/layer0.weights")
	assert.ErrorIs(t, other.SetParameters("q/", bad), ErrMissingGroup)
}

func TestSoftmaxAndEntropy(t *testing.T) {
	p := Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.InDelta(t, math.Log(2), Entropy(p), 1e-12)
	assert.Equal(t, 2, Argmax([]float64{0, 1, 3, 3}))
}
