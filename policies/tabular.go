package policies

import (
	"errors"
	"fmt"
	"time"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/nn"
	"github.com/zeu5/stair-rl/util"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

type TabularConfig struct {
	Alpha float64 `json:"alpha"`
	Gamma float64 `json:"gamma"`
	// Temperature of the softmax over action values
	Temperature float64 `json:"temperature"`
	// Resolution is the bucket width applied to every observation component
	Resolution float64 `json:"resolution"`
	Seed       uint64  `json:"seed"`
}

func DefaultTabularConfig() TabularConfig {
	return TabularConfig{
		Alpha:       0.1,
		Gamma:       0.95,
		Temperature: 1.0,
		Resolution:  0.25,
	}
}

func (c TabularConfig) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %f", c.Alpha)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1], got %f", c.Gamma)
	}
	if c.Temperature <= 0 || c.Resolution <= 0 {
		return errors.New("temperature and resolution must be positive")
	}
	return nil
}

// TabularAgent is softmax Q-learning over bucketed observations.
// It has no gradients and serves as the cheap learning baseline.
type TabularAgent struct {
	config TabularConfig
	table  *QTable
	rand   erand.Source
}

var _ core.Agent = &TabularAgent{}

func NewTabularAgent(config TabularConfig) (*TabularAgent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &TabularAgent{
		config: config,
		table:  NewQTable(0),
		rand:   erand.NewSource(seed),
	}, nil
}

func (t *TabularAgent) Name() string {
	return "tabular"
}

func (t *TabularAgent) Table() *QTable {
	return t.table
}

func (t *TabularAgent) Act(obs core.Observation, explore bool) core.Decision {
	if !util.AllFinite(obs) {
		return core.Decision{Action: core.ActionForward}
	}
	key := StateKey(obs, t.config.Resolution)
	if !explore {
		a, _ := t.table.Max(key)
		return core.Decision{Action: a}
	}

	values := t.table.Get(key)
	logits := make([]float64, len(values))
	for i, v := range values {
		logits[i] = v / t.config.Temperature
	}
	probs := nn.Softmax(logits)
	i, ok := sampleuv.NewWeighted(probs, t.rand).Take()
	if !ok {
		return core.Decision{Action: core.Action(nn.Argmax(values))}
	}
	return core.Decision{Action: core.Action(i)}
}

// Observe applies one Q-learning update. Non-finite transitions are skipped.
func (t *TabularAgent) Observe(tr core.Transition) (core.TrainResult, error) {
	if !tr.Action.Valid() || !util.IsFinite(tr.Reward) || !util.AllFinite(tr.State) || !util.AllFinite(tr.NextState) {
		return core.TrainResult{Skipped: 1}, nil
	}
	key := StateKey(tr.State, t.config.Resolution)
	next := 0.0
	if !tr.Done {
		_, next = t.table.Max(StateKey(tr.NextState, t.config.Resolution))
	}
	cur := t.table.Value(key, tr.Action)
	target := tr.Reward + t.config.Gamma*next
	updated := (1-t.config.Alpha)*cur + t.config.Alpha*target
	if !util.IsFinite(updated) {
		return core.TrainResult{Aborted: true, Reason: "non-finite q value"}, core.ErrNonFiniteParameters
	}
	t.table.Set(key, tr.Action, updated)
	return core.TrainResult{Trained: true, Samples: 1, Loss: (target - cur) * (target - cur)}, nil
}

func (t *TabularAgent) EndEpisode() (core.TrainResult, error) {
	return core.TrainResult{}, nil
}

func (t *TabularAgent) Discard() {}

func (t *TabularAgent) Parameters() map[string][]float64 {
	return t.table.Parameters("q/")
}

func (t *TabularAgent) LoadParameters(params map[string][]float64) error {
	return t.table.Load("q/", params)
}
