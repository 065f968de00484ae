package policies

import (
	"time"

	"github.com/zeu5/stair-rl/core"
	erand "golang.org/x/exp/rand"
)

// RandomAgent picks uniformly random actions and never learns. It is
// the baseline the learning agents are compared against.
type RandomAgent struct {
	rand *erand.Rand
}

var _ core.Agent = &RandomAgent{}

func NewRandomAgent(seed uint64) *RandomAgent {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomAgent{
		rand: erand.New(erand.NewSource(seed)),
	}
}

func (r *RandomAgent) Name() string {
	return "random"
}

func (r *RandomAgent) Act(_ core.Observation, _ bool) core.Decision {
	return core.Decision{Action: core.Action(r.rand.Intn(core.NumActions))}
}

func (r *RandomAgent) Observe(_ core.Transition) (core.TrainResult, error) {
	return core.TrainResult{}, nil
}

func (r *RandomAgent) EndEpisode() (core.TrainResult, error) {
	return core.TrainResult{}, nil
}

func (r *RandomAgent) Discard() {}

func (r *RandomAgent) Parameters() map[string][]float64 {
	return map[string][]float64{}
}

func (r *RandomAgent) LoadParameters(_ map[string][]float64) error {
	return nil
}
