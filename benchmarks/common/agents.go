package common

import (
	"fmt"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/policies"
)

const (
	AgentDQN     = "dqn"
	AgentPPO     = "ppo"
	AgentRandom  = "random"
	AgentTabular = "tabular"
)

// AgentFlags holds the per algorithm overrides, zero values keep the defaults
type AgentFlags struct {
	Hidden       []int
	LearningRate float64
	BatchSize    int
	GradClip     float64
	EntropyCoef  float64
	ClipRange    float64
	Epochs       int
	// Resolution is the observation bucket width of the tabular agent
	Resolution float64
	// EntropyDecay scales the PPO entropy coefficient on every curriculum level advance
	EntropyDecay float64
}

func (f *Flags) DQNConfig(a AgentFlags) policies.DQNConfig {
	c := policies.DefaultDQNConfig()
	c.Seed = f.Seed
	if len(a.Hidden) > 0 {
		c.Hidden = a.Hidden
	}
	if a.LearningRate > 0 {
		c.LearningRate = a.LearningRate
	}
	if a.BatchSize > 0 {
		c.BatchSize = a.BatchSize
	}
	if a.GradClip > 0 {
		c.GradClip = a.GradClip
	}
	return c
}

func (f *Flags) PPOConfig(a AgentFlags) policies.PPOConfig {
	c := policies.DefaultPPOConfig()
	c.Seed = f.Seed
	if len(a.Hidden) > 0 {
		c.Hidden = a.Hidden
	}
	if a.LearningRate > 0 {
		c.Hyperparameters.LearningRate = a.LearningRate
	}
	if a.EntropyCoef > 0 {
		c.Hyperparameters.EntropyCoef = a.EntropyCoef
	}
	if a.ClipRange > 0 {
		c.Hyperparameters.ClipRange = a.ClipRange
	}
	if a.Epochs > 0 {
		c.Hyperparameters.Epochs = a.Epochs
	}
	if a.GradClip > 0 {
		c.GradClip = a.GradClip
	}
	return c
}

func (f *Flags) TabularConfig(a AgentFlags) policies.TabularConfig {
	c := policies.DefaultTabularConfig()
	c.Seed = f.Seed
	if a.LearningRate > 0 {
		c.Alpha = a.LearningRate
	}
	if a.Resolution > 0 {
		c.Resolution = a.Resolution
	}
	return c
}

// AgentConstructor returns the constructor of the named algorithm
func (f *Flags) AgentConstructor(name string, a AgentFlags) (core.AgentConstructor, error) {
	switch name {
	case AgentDQN:
		config := f.DQNConfig(a)
		return func(obsSize int) (core.Agent, error) {
			return policies.NewDQN(obsSize, config)
		}, nil
	case AgentPPO:
		config := f.PPOConfig(a)
		return func(obsSize int) (core.Agent, error) {
			return policies.NewPPO(obsSize, config)
		}, nil
	case AgentTabular:
		config := f.TabularConfig(a)
		return func(int) (core.Agent, error) {
			return policies.NewTabularAgent(config)
		}, nil
	case AgentRandom:
		seed := f.Seed
		return func(int) (core.Agent, error) {
			return policies.NewRandomAgent(seed), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown agent %q", name)
}

// EntropySchedule lowers the PPO entropy bonus each time the curriculum
// advances. Other agents are left untouched.
type EntropySchedule struct {
	agent *policies.PPO
	decay float64
	level int
}

func NewEntropySchedule(agent core.Agent, decay float64) *EntropySchedule {
	ppo, _ := agent.(*policies.PPO)
	return &EntropySchedule{agent: ppo, decay: decay}
}

// Update is called with the level after every episode and reports
// whether the hyperparameters changed
func (e *EntropySchedule) Update(level int) (bool, error) {
	if e.agent == nil || e.decay <= 0 || e.decay == 1 || level <= e.level {
		e.level = level
		return false, nil
	}
	h := e.agent.Hyperparameters()
	for ; e.level < level; e.level++ {
		h.EntropyCoef *= e.decay
	}
	return true, e.agent.SetHyperparameters(h)
}
