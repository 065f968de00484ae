package core

// Transition is one (state, action, reward, next_state, done) step
type Transition struct {
	State     Observation `json:"state"`
	Action    Action      `json:"action"`
	Reward    float64     `json:"reward"`
	NextState Observation `json:"next_state"`
	Done      bool        `json:"done"`
	LogProb   float64     `json:"log_prob"`
	Value     float64     `json:"value"`
	Info      StepInfo    `json:"info"`
}

// Trace is the ordered transition list of one episode. It is written by
// a single episode loop and discarded once summarised.
type Trace struct {
	steps []Transition
}

func NewTrace() *Trace {
	return &Trace{
		steps: make([]Transition, 0),
	}
}

func (t *Trace) AddStep(s Transition) {
	t.steps = append(t.steps, s)
}

func (t *Trace) Step(i int) Transition {
	return t.steps[i]
}

func (t *Trace) Len() int {
	return len(t.steps)
}

func (t *Trace) Last() (Transition, bool) {
	if len(t.steps) == 0 {
		return Transition{}, false
	}
	return t.steps[len(t.steps)-1], true
}

// Steps returns the transitions, the slice must not be modified
func (t *Trace) Steps() []Transition {
	return t.steps
}
