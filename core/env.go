package core

import (
	"fmt"
)

// Action is one of the discrete climbing actions
type Action int

const (
	ActionForward Action = iota
	ActionBackward
	ActionLeft
	ActionRight
	ActionJump
	ActionGrab
)

// NumActions is the size of the discrete action space
const NumActions = 6

var actionNames = [NumActions]string{"forward", "backward", "left", "right", "jump", "grab"}

func (a Action) Valid() bool {
	return a >= 0 && int(a) < NumActions
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// AllActions lists the action space in index order
func AllActions() []Action {
	out := make([]Action, NumActions)
	for i := range out {
		out[i] = Action(i)
	}
	return out
}

// Observation is the fixed-length numeric state vector handed to agents
type Observation []float64

func (o Observation) Copy() Observation {
	out := make(Observation, len(o))
	copy(out, o)
	return out
}

// Outcome classifies how a transition left the episode
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeGoal
	OutcomeFell
	OutcomeOutOfBounds
	OutcomeBufferExhausted
	OutcomeStepBudget
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeGoal:
		return "goal"
	case OutcomeFell:
		return "fell"
	case OutcomeOutOfBounds:
		return "out_of_bounds"
	case OutcomeBufferExhausted:
		return "buffer_exhausted"
	case OutcomeStepBudget:
		return "step_budget"
	case OutcomeInvalid:
		return "invalid"
	}
	return "unknown"
}

// Success is true only for episodes that reached the goal support
func (o Outcome) Success() bool {
	return o == OutcomeGoal
}

// StepInfo carries diagnostic details of one environment transition
type StepInfo struct {
	Outcome         Outcome `json:"outcome"`
	SupportIndex    int     `json:"support_index"`
	HighestSupport  int     `json:"highest_support"`
	SafetyBuffer    int     `json:"safety_buffer"`
	OffSupportTicks int     `json:"off_support_ticks"`
	Step            int     `json:"step"`
	Level           int     `json:"level"`
}

// StepResult is what Environment.Step returns
type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        StepInfo
}

type Environment interface {
	// Reset places the agent at the start pose and returns the initial observation
	Reset() Observation
	// Step applies the action for one fixed physics tick
	Step(Action) StepResult
	IsTerminal() bool
	ObservationSize() int
}

// CurriculumEnvironment is implemented by environments whose goal and
// step budget can be narrowed by discrete levels
type CurriculumEnvironment interface {
	Environment
	Level() int
	NumLevels() int
	// AdvanceLevel moves to the next level and reports whether it did
	AdvanceLevel() bool
	SetLevel(int) error
}
