package policies

// ComputeGAE walks the trajectory backward and returns the generalised
// advantage estimates and the discounted returns used as critic targets.
// lastValue bootstraps the state after the final transition and is
// ignored when that transition is terminal.
func ComputeGAE(rewards, values []float64, dones []bool, lastValue, gamma, lambda float64) ([]float64, []float64) {
	n := len(rewards)
	advantages := make([]float64, n)
	returns := make([]float64, n)

	nextValue := lastValue
	nextAdvantage := 0.0
	for i := n - 1; i >= 0; i-- {
		notDone := 1.0
		if dones[i] {
			notDone = 0
		}
		delta := rewards[i] + gamma*nextValue*notDone - values[i]
		nextAdvantage = delta + gamma*lambda*notDone*nextAdvantage
		advantages[i] = nextAdvantage
		returns[i] = advantages[i] + values[i]
		nextValue = values[i]
	}
	return advantages, returns
}
