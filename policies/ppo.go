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
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// PPOHyperparameters can be changed between episodes without rebuilding the agent
type PPOHyperparameters struct {
	LearningRate float64 `json:"learning_rate"`
	EntropyCoef  float64 `json:"entropy_coef"`
	ClipRange    float64 `json:"clip_range"`
	Epochs       int     `json:"epochs"`
}

func (h PPOHyperparameters) Validate() error {
	if h.LearningRate <= 0 || !util.IsFinite(h.LearningRate) {
		return fmt.Errorf("learning rate must be positive, got %f", h.LearningRate)
	}
	if h.EntropyCoef < 0 || !util.IsFinite(h.EntropyCoef) {
		return fmt.Errorf("entropy coefficient must be non-negative, got %f", h.EntropyCoef)
	}
	if h.ClipRange <= 0 || h.ClipRange >= 1 {
		return fmt.Errorf("clip range must be in (0, 1), got %f", h.ClipRange)
	}
	if h.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", h.Epochs)
	}
	return nil
}

type PPOConfig struct {
	Hidden          []int              `json:"hidden"`
	Discount        float64            `json:"discount"`
	Lambda          float64            `json:"lambda"`
	Hyperparameters PPOHyperparameters `json:"hyperparameters"`
	// CriticLearningRate is fixed, only the actor follows the hyperparameters
	CriticLearningRate  float64 `json:"critic_learning_rate"`
	GradClip            float64 `json:"grad_clip"`
	NormalizeAdvantages bool    `json:"normalize_advantages"`
	Seed                uint64  `json:"seed"`
}

func DefaultPPOConfig() PPOConfig {
	return PPOConfig{
		Hidden:   []int{64, 64},
		Discount: 0.99,
		Lambda:   0.95,
		Hyperparameters: PPOHyperparameters{
			LearningRate: 3e-4,
			EntropyCoef:  0.01,
			ClipRange:    0.2,
			Epochs:       4,
		},
		CriticLearningRate:  1e-3,
		GradClip:            0.5,
		NormalizeAdvantages: true,
	}
}

func (c PPOConfig) Validate() error {
	if c.Discount < 0 || c.Discount > 1 || c.Lambda < 0 || c.Lambda > 1 {
		return errors.New("discount and lambda must be in [0, 1]")
	}
	if c.CriticLearningRate <= 0 || c.GradClip <= 0 {
		return errors.New("critic learning rate and gradient clip must be positive")
	}
	return c.Hyperparameters.Validate()
}

// PPO is an on-policy actor-critic agent with a clipped surrogate
// objective. It owns exactly one trajectory, the current episode's, which
// is discarded by every Train call.
type PPO struct {
	config  PPOConfig
	hyper   PPOHyperparameters
	obsSize int

	actor     *nn.MLP
	critic    *nn.MLP
	criticOpt *nn.SGD

	trajectory []core.Transition

	rand erand.Source
	rng  *erand.Rand
}

var _ core.Agent = &PPO{}

func NewPPO(obsSize int, config PPOConfig) (*PPO, error) {
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

	actorSizes := append(append([]int{obsSize}, config.Hidden...), core.NumActions)
	criticSizes := append(append([]int{obsSize}, config.Hidden...), 1)
	return &PPO{
		config:    config,
		hyper:     config.Hyperparameters,
		obsSize:   obsSize,
		actor:     nn.NewMLP(actorSizes, nn.Tanh, src),
		critic:    nn.NewMLP(criticSizes, nn.Tanh, src),
		criticOpt: &nn.SGD{LearningRate: config.CriticLearningRate},
		rand:      src,
		rng:       erand.New(src),
	}, nil
}

func (p *PPO) Name() string {
	return "ppo"
}

// Act samples from the policy when exploring and takes the most likely
// action otherwise. The log probability and the critic's value are
// recorded with the decision for the later importance ratio.
func (p *PPO) Act(obs core.Observation, explore bool) core.Decision {
	if len(obs) != p.obsSize || !util.AllFinite(obs) {
		return core.Decision{
			Action:  core.Action(p.rng.Intn(core.NumActions)),
			LogProb: -math.Log(core.NumActions),
		}
	}
	probs := nn.Softmax(p.actor.Forward(obs))
	var action int
	if explore {
		var ok bool
		action, ok = sampleuv.NewWeighted(probs, p.rand).Take()
		if !ok {
			action = nn.Argmax(probs)
		}
	} else {
		action = nn.Argmax(probs)
	}
	return core.Decision{
		Action:  core.Action(action),
		LogProb: math.Log(probs[action]),
		Value:   p.critic.Forward(obs)[0],
	}
}

// Observe appends the transition to the current trajectory
func (p *PPO) Observe(t core.Transition) (core.TrainResult, error) {
	p.Record(t)
	return core.TrainResult{}, nil
}

func (p *PPO) Record(t core.Transition) {
	t.State = t.State.Copy()
	t.NextState = t.NextState.Copy()
	p.trajectory = append(p.trajectory, t)
}

// EndEpisode trains on the finished episode
func (p *PPO) EndEpisode() (core.TrainResult, error) {
	return p.Train()
}

// Discard drops the partial trajectory, the networks are left untouched
func (p *PPO) Discard() {
	p.trajectory = nil
}

func (p *PPO) TrajectoryLen() int {
	return len(p.trajectory)
}

func (p *PPO) Hyperparameters() PPOHyperparameters {
	return p.hyper
}

func (p *PPO) SetHyperparameters(h PPOHyperparameters) error {
	if err := h.Validate(); err != nil {
		return err
	}
	p.hyper = h
	return nil
}

// Train runs the configured number of epochs over the current trajectory
// and then discards it. An empty trajectory is a no-op. A malformed
// trajectory or any non-finite advantage, loss or gradient aborts the
// call before the offending update is applied. Over the whole call the
// actor moves at most LearningRate*GradClip and the critic at most
// CriticLearningRate*GradClip in parameter space.
func (p *PPO) Train() (core.TrainResult, error) {
	trajectory := p.trajectory
	p.trajectory = nil

	if len(trajectory) == 0 {
		return core.TrainResult{Reason: "empty trajectory"}, nil
	}
	if !p.actor.AllFinite() || !p.critic.AllFinite() {
		return core.TrainResult{Aborted: true, Reason: "parameters are not finite"}, core.ErrNonFiniteParameters
	}
	for _, t := range trajectory {
		if !p.validTransition(t) {
			return core.TrainResult{Aborted: true, Reason: "malformed trajectory"}, nil
		}
	}

	n := len(trajectory)
	rewards := make([]float64, n)
	values := make([]float64, n)
	dones := make([]bool, n)
	for i, t := range trajectory {
		rewards[i], values[i], dones[i] = t.Reward, t.Value, t.Done
	}
	// a truncated episode bootstraps from the critic
	lastValue := 0.0
	if last := trajectory[n-1]; !last.Done {
		lastValue = p.critic.Forward(last.NextState)[0]
	}
	advantages, returns := ComputeGAE(rewards, values, dones, lastValue, p.config.Discount, p.config.Lambda)
	if !util.AllFinite(advantages) || !util.AllFinite(returns) {
		return core.TrainResult{Aborted: true, Reason: "non-finite advantage"}, nil
	}
	if p.config.NormalizeAdvantages && n > 1 {
		mean, std := stat.MeanStdDev(advantages, nil)
		if std > 0 {
			for i := range advantages {
				advantages[i] = (advantages[i] - mean) / (std + 1e-8)
			}
		}
	}

	result := core.TrainResult{Samples: n}
	actorOpt := &nn.SGD{LearningRate: p.hyper.LearningRate}
	actorStart, criticStart := p.actor.Clone(), p.critic.Clone()
	for epoch := 0; epoch < p.hyper.Epochs; epoch++ {
		actorGrads, criticGrads, loss := p.gradients(trajectory, advantages, returns)
		if !util.IsFinite(loss) || !actorGrads.AllFinite() || !criticGrads.AllFinite() {
			result.Aborted = true
			result.Reason = fmt.Sprintf("non-finite loss or gradient in epoch %d", epoch)
			break
		}
		actorNorm := nn.ClipByGlobalNorm(p.config.GradClip, actorGrads)
		criticNorm := nn.ClipByGlobalNorm(p.config.GradClip, criticGrads)
		actorOpt.Apply(p.actor, actorGrads)
		p.criticOpt.Apply(p.critic, criticGrads)

		result.Trained = true
		result.Loss = loss
		result.GradNorm = math.Hypot(actorNorm, criticNorm)
		if !p.actor.AllFinite() || !p.critic.AllFinite() {
			return result, core.ErrNonFiniteParameters
		}
	}
	// all epochs together move each network at most one clipped step
	p.actor.LimitDistance(actorStart, p.hyper.LearningRate*p.config.GradClip)
	p.critic.LimitDistance(criticStart, p.config.CriticLearningRate*p.config.GradClip)
	return result, nil
}

// gradients returns the full-batch gradients of the clipped surrogate
// loss with entropy bonus for the actor and of the squared error against
// the returns for the critic, plus the combined loss
func (p *PPO) gradients(trajectory []core.Transition, advantages, returns []float64) (*nn.Gradients, *nn.Gradients, float64) {
	n := float64(len(trajectory))
	eps := p.hyper.ClipRange
	coef := p.hyper.EntropyCoef
	actorGrads := p.actor.NewGradients()
	criticGrads := p.critic.NewGradients()

	policyLoss, entropy, valueLoss := 0.0, 0.0, 0.0
	for i, t := range trajectory {
		a := int(t.Action)
		adv := advantages[i]

		pass := p.actor.ForwardPass(t.State)
		probs := nn.Softmax(pass.Output())
		h := nn.Entropy(probs)
		ratio := math.Exp(math.Log(probs[a]) - t.LogProb)
		clippedRatio := util.Clamp(ratio, 1-eps, 1+eps)
		policyLoss -= math.Min(ratio*adv, clippedRatio*adv) / n
		entropy += h / n

		// the surrogate has no gradient where the clipped term is the minimum
		clipped := (adv >= 0 && ratio > 1+eps) || (adv < 0 && ratio < 1-eps)
		dLogits := make([]float64, len(probs))
		for k, pk := range probs {
			onehot := 0.0
			if k == a {
				onehot = 1
			}
			if !clipped {
				dLogits[k] = -adv * ratio * (onehot - pk) / n
			}
			if pk > 0 {
				dLogits[k] += coef * pk * (math.Log(pk) + h) / n
			}
		}
		p.actor.Backward(pass, dLogits, actorGrads)

		cpass := p.critic.ForwardPass(t.State)
		diff := cpass.Output()[0] - returns[i]
		valueLoss += diff * diff / n
		p.critic.Backward(cpass, []float64{2 * diff / n}, criticGrads)
	}
	return actorGrads, criticGrads, policyLoss - coef*entropy + valueLoss
}

func (p *PPO) Actor() *nn.MLP {
	return p.actor
}

func (p *PPO) Critic() *nn.MLP {
	return p.critic
}

func (p *PPO) Parameters() map[string][]float64 {
	params := p.actor.Parameters("actor/")
	for k, v := range p.critic.Parameters("critic/") {
		params[k] = v
	}
	return params
}

// LoadParameters replaces both networks, or neither when any group is invalid
func (p *PPO) LoadParameters(params map[string][]float64) error {
	actor, critic := p.actor.Clone(), p.critic.Clone()
	if err := actor.SetParameters("actor/", params); err != nil {
		return err
	}
	if err := critic.SetParameters("critic/", params); err != nil {
		return err
	}
	p.actor, p.critic = actor, critic
	return nil
}

func (p *PPO) validTransition(t core.Transition) bool {
	return t.Action.Valid() &&
		len(t.State) == p.obsSize && util.AllFinite(t.State) &&
		util.IsFinite(t.Reward) && util.IsFinite(t.LogProb) && util.IsFinite(t.Value) &&
		(t.Done || (len(t.NextState) == p.obsSize && util.AllFinite(t.NextState)))
}
