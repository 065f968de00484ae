package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax returns the normalised exponentials of logits, shifted by the
// maximum for numerical stability
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := floats.Max(logits)
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}

// Entropy of a categorical distribution, zero-probability entries contribute nothing
func Entropy(probs []float64) float64 {
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// Argmax returns the index of the largest value, the first one on ties
func Argmax(values []float64) int {
	return floats.MaxIdx(values)
}
