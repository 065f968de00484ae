package policies

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/nn"
	"github.com/zeu5/stair-rl/util"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

type DQNConfig struct {
	Hidden       []int   `json:"hidden"`
	LearningRate float64 `json:"learning_rate"`
	Discount     float64 `json:"discount"`

	// Epsilon decays multiplicatively once per episode down to EpsilonMin
	EpsilonStart float64 `json:"epsilon_start"`
	EpsilonDecay float64 `json:"epsilon_decay"`
	EpsilonMin   float64 `json:"epsilon_min"`

	ReplayCapacity int `json:"replay_capacity"`
	BatchSize      int `json:"batch_size"`
	// WarmupTransitions are collected before the first training step
	WarmupTransitions int `json:"warmup_transitions"`
	// TrainEvery runs one training step every N observed transitions
	TrainEvery int `json:"train_every"`
	// TargetSyncEvery copies the online network into the target network
	// every N training steps
	TargetSyncEvery int `json:"target_sync_every"`

	// GradClip is the maximum global gradient norm of one update
	GradClip float64 `json:"grad_clip"`
	// TargetClamp bounds the magnitude of every bootstrap target
	TargetClamp float64 `json:"target_clamp"`

	// Seed of the exploration and sampling source, 0 seeds from the clock
	Seed uint64 `json:"seed"`
}

func DefaultDQNConfig() DQNConfig {
	return DQNConfig{
		Hidden:            []int{64, 64},
		LearningRate:      1e-3,
		Discount:          0.99,
		EpsilonStart:      1.0,
		EpsilonDecay:      0.995,
		EpsilonMin:        0.05,
		ReplayCapacity:    50000,
		BatchSize:         64,
		WarmupTransitions: 1000,
		TrainEvery:        4,
		TargetSyncEvery:   500,
		GradClip:          10,
		TargetClamp:       200,
	}
}

func (c DQNConfig) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", c.LearningRate)
	}
	if c.Discount < 0 || c.Discount > 1 {
		return fmt.Errorf("discount must be in [0, 1], got %f", c.Discount)
	}
	if c.EpsilonMin < 0 || c.EpsilonStart > 1 || c.EpsilonMin > c.EpsilonStart {
		return errors.New("epsilon must satisfy 0 <= min <= start <= 1")
	}
	if c.EpsilonDecay <= 0 || c.EpsilonDecay > 1 {
		return fmt.Errorf("epsilon decay must be in (0, 1], got %f", c.EpsilonDecay)
	}
	if c.ReplayCapacity <= 0 || c.BatchSize <= 0 || c.TrainEvery <= 0 || c.TargetSyncEvery <= 0 {
		return errors.New("replay capacity, batch size, train and sync intervals must be positive")
	}
	if c.GradClip <= 0 || c.TargetClamp <= 0 {
		return errors.New("gradient clip and target clamp must be positive")
	}
	return nil
}

// DQN learns action values with experience replay and a target network.
// The target network is an independent copy refreshed by CopyFrom and
// is never trained.
type DQN struct {
	config  DQNConfig
	obsSize int

	online    *nn.MLP
	target    *nn.MLP
	optimizer *nn.SGD
	replay    *ReplayBuffer

	rand       erand.Source
	rng        *erand.Rand
	epsilon    float64
	observed   int
	trainSteps int
}

var _ core.Agent = &DQN{}

func NewDQN(obsSize int, config DQNConfig) (*DQN, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if obsSize <= 0 {
		return nil, fmt.Errorf("observation size must be positive, got %d", obsSize)
	}
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := erand.NewSource(seed)

	sizes := append([]int{obsSize}, config.Hidden...)
	sizes = append(sizes, core.NumActions)
	online := nn.NewMLP(sizes, nn.ReLU, src)

	return &DQN{
		config:    config,
		obsSize:   obsSize,
		online:    online,
		target:    online.Clone(),
		optimizer: &nn.SGD{LearningRate: config.LearningRate},
		replay:    NewReplayBuffer(config.ReplayCapacity),
		rand:      src,
		rng:       erand.New(src),
		epsilon:   config.EpsilonStart,
	}, nil
}

func (d *DQN) Name() string {
	return "dqn"
}

func (d *DQN) Act(obs core.Observation, explore bool) core.Decision {
	return core.Decision{Action: d.SelectAction(obs, explore)}
}

// SelectAction is epsilon-greedy when explore is set and greedy otherwise.
// Malformed observations get a uniformly random action.
func (d *DQN) SelectAction(obs core.Observation, explore bool) core.Action {
	if !d.validObservation(obs) {
		return core.Action(d.rng.Intn(core.NumActions))
	}
	if explore && d.rng.Float64() < d.epsilon {
		return core.Action(d.rng.Intn(core.NumActions))
	}
	return core.Action(nn.Argmax(d.online.Forward(obs)))
}

// Observe stores the transition and trains once warm
func (d *DQN) Observe(t core.Transition) (core.TrainResult, error) {
	d.replay.Add(t)
	d.observed++
	if d.observed < d.config.WarmupTransitions || d.observed%d.config.TrainEvery != 0 {
		return core.TrainResult{}, nil
	}
	return d.Train(d.config.BatchSize)
}

type dqnSample struct {
	pass   *nn.Pass
	action int
	q      float64
	target float64
}

// Train runs one gradient step on batchSize transitions drawn uniformly
// from the replay buffer. Transitions with a malformed state or a
// non-finite reward or target are skipped.
func (d *DQN) Train(batchSize int) (core.TrainResult, error) {
	if !d.online.AllFinite() {
		return core.TrainResult{Aborted: true, Reason: "online parameters are not finite"}, core.ErrNonFiniteParameters
	}
	batch := d.replay.Sample(batchSize, d.rand)
	if len(batch) == 0 {
		return core.TrainResult{Reason: "replay buffer is empty"}, nil
	}

	result := core.TrainResult{}
	samples := make([]dqnSample, 0, len(batch))
	for _, t := range batch {
		if !d.validTransition(t) {
			result.Skipped++
			continue
		}
		target := t.Reward
		if !t.Done {
			target += d.config.Discount * floats.Max(d.target.Forward(t.NextState))
		}
		if !util.IsFinite(target) {
			result.Skipped++
			continue
		}
		target = util.Clamp(target, -d.config.TargetClamp, d.config.TargetClamp)

		pass := d.online.ForwardPass(t.State)
		samples = append(samples, dqnSample{
			pass:   pass,
			action: int(t.Action),
			q:      pass.Output()[t.Action],
			target: target,
		})
	}
	result.Samples = len(samples)
	if len(samples) == 0 {
		result.Reason = "no usable transitions in batch"
		return result, nil
	}

	n := float64(len(samples))
	grads := d.online.NewGradients()
	for _, s := range samples {
		diff := s.q - s.target
		result.Loss += diff * diff / n
		dOut := make([]float64, core.NumActions)
		dOut[s.action] = 2 * diff / n
		d.online.Backward(s.pass, dOut, grads)
	}

	if !util.IsFinite(result.Loss) || !grads.AllFinite() {
		result.Aborted = true
		result.Reason = "non-finite loss or gradient"
		return result, nil
	}
	result.GradNorm = nn.ClipByGlobalNorm(d.config.GradClip, grads)
	d.optimizer.Apply(d.online, grads)
	d.trainSteps++
	result.Trained = true

	if !d.online.AllFinite() {
		return result, core.ErrNonFiniteParameters
	}
	if d.trainSteps%d.config.TargetSyncEvery == 0 {
		if err := d.target.CopyFrom(d.online); err != nil {
			return result, err
		}
	}
	return result, nil
}

// EndEpisode decays epsilon
func (d *DQN) EndEpisode() (core.TrainResult, error) {
	d.epsilon = math.Max(d.config.EpsilonMin, d.epsilon*d.config.EpsilonDecay)
	return core.TrainResult{}, nil
}

// Discard keeps the replay buffer, an interrupted episode does not decay epsilon
func (d *DQN) Discard() {}

func (d *DQN) Epsilon() float64 {
	return d.epsilon
}

func (d *DQN) TrainSteps() int {
	return d.trainSteps
}

func (d *DQN) Replay() *ReplayBuffer {
	return d.replay
}

// Online exposes the trained network, used to inspect updates
func (d *DQN) Online() *nn.MLP {
	return d.online
}

func (d *DQN) Target() *nn.MLP {
	return d.target
}

const epsilonParam = "meta/epsilon"

func (d *DQN) Parameters() map[string][]float64 {
	params := d.online.Parameters("q/")
	params[epsilonParam] = []float64{d.epsilon}
	return params
}

// LoadParameters replaces the online network and resynchronises the
// target network from it
func (d *DQN) LoadParameters(params map[string][]float64) error {
	if err := d.online.SetParameters("q/", params); err != nil {
		return err
	}
	if err := d.target.CopyFrom(d.online); err != nil {
		return err
	}
	if eps, ok := params[epsilonParam]; ok && len(eps) == 1 && util.IsFinite(eps[0]) {
		d.epsilon = util.Clamp(eps[0], d.config.EpsilonMin, d.config.EpsilonStart)
	}
	return nil
}

func (d *DQN) validObservation(obs core.Observation) bool {
	return len(obs) == d.obsSize && util.AllFinite(obs)
}

func (d *DQN) validTransition(t core.Transition) bool {
	return t.Action.Valid() &&
		util.IsFinite(t.Reward) &&
		d.validObservation(t.State) &&
		(t.Done || d.validObservation(t.NextState))
}
