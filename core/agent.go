package core

import "errors"

var (
	// ErrNonFiniteParameters is returned by an agent whose own network
	// parameters became non-finite. The agent cannot recover from it.
	ErrNonFiniteParameters = errors.New("network parameters are not finite")
)

// Decision is an agent's choice for one observation. LogProb and Value
// are filled by agents that need them recorded at action time.
type Decision struct {
	Action  Action
	LogProb float64
	Value   float64
}

// TrainResult summarises one training invocation
type TrainResult struct {
	Trained  bool
	Loss     float64
	GradNorm float64
	Samples  int
	Skipped  int
	Aborted  bool
	Reason   string
}

type Agent interface {
	// Name identifies the algorithm, used for model ids and logs
	Name() string
	Act(obs Observation, explore bool) Decision
	// Observe hands the agent one completed transition. Agents that learn
	// per step may train here.
	Observe(Transition) (TrainResult, error)
	// EndEpisode is called once after the terminal transition
	EndEpisode() (TrainResult, error)
	// Discard replaces EndEpisode for an episode that was interrupted. The
	// agent drops any per-episode data without learning from it.
	Discard()
	Parameters() map[string][]float64
	LoadParameters(map[string][]float64) error
}

// AgentConstructor creates a fresh agent for the given observation size
type AgentConstructor func(obsSize int) (Agent, error)
