package policies

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/nn"
)

func testPPOConfig() PPOConfig {
	c := DefaultPPOConfig()
	c.Hidden = []int{16}
	c.Seed = 42
	return c
}

func TestComputeGAE(t *testing.T) {
	adv, ret := ComputeGAE(
		[]float64{1, 1, 1},
		[]float64{0.5, 0.5, 0.5},
		[]bool{false, false, true},
		123, 0.9, 0.8,
	)
	assert.InDeltaSlice(t, []float64{1.8932, 1.31, 0.5}, adv, 1e-9)
	assert.InDeltaSlice(t, []float64{2.3932, 1.81, 1.0}, ret, 1e-9)
}

func TestComputeGAEBootstrapsTruncatedEpisodes(t *testing.T) {
	adv, ret := ComputeGAE([]float64{0}, []float64{0}, []bool{false}, 2, 0.5, 1)
	assert.InDeltaSlice(t, []float64{1}, adv, 1e-12)
	assert.InDeltaSlice(t, []float64{1}, ret, 1e-12)

	// a terminal transition in the middle cuts the backward recursion
	adv, _ = ComputeGAE([]float64{0, 0, 5}, []float64{0, 0, 0}, []bool{false, true, true}, 0, 1, 1)
	assert.InDeltaSlice(t, []float64{0, 0, 5}, adv, 1e-12)
}

func recordEpisode(p *PPO, steps int, reward func(core.Action) float64) {
	for i := 0; i < steps; i++ {
		obs := testObservation(0.5)
		d := p.Act(obs, true)
		p.Observe(core.Transition{
			State:     obs,
			Action:    d.Action,
			Reward:    reward(d.Action),
			NextState: testObservation(0.5),
			Done:      i == steps-1,
			LogProb:   d.LogProb,
			Value:     d.Value,
		})
	}
}

func TestPPORecordsDecisionAtActionTime(t *testing.T) {
	p, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)
	obs := testObservation(1)
	d := p.Act(obs, true)
	probs := nn.Softmax(p.Actor().Forward(obs))
	assert.InDelta(t, math.Log(probs[d.Action]), d.LogProb, 1e-12)
	assert.InDelta(t, p.Critic().Forward(obs)[0], d.Value, 1e-12)

	greedy := p.Act(obs, false)
	assert.Equal(t, core.Action(nn.Argmax(probs)), greedy.Action)
}

func TestPPOTrajectoryIsDiscardedAfterTrain(t *testing.T) {
	p, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)
	recordEpisode(p, 10, func(core.Action) float64 { return 1 })
	require.Equal(t, 10, p.TrajectoryLen())

	res, err := p.EndEpisode()
	require.NoError(t, err)
	assert.True(t, res.Trained)
	assert.Equal(t, 10, res.Samples)
	assert.Equal(t, 0, p.TrajectoryLen())

	actor, critic := p.Actor().Clone(), p.Critic().Clone()
	res, err = p.Train()
	require.NoError(t, err)
	assert.False(t, res.Trained)
	assert.False(t, res.Aborted)
	assert.Equal(t, 0.0, p.Actor().Distance(actor))
	assert.Equal(t, 0.0, p.Critic().Distance(critic))
}

func TestPPOPathologicalRewardIsClipped(t *testing.T) {
	config := testPPOConfig()
	config.NormalizeAdvantages = false
	config.Hyperparameters.Epochs = 10
	p, err := NewPPO(testObsSize, config)
	require.NoError(t, err)
	recordEpisode(p, 5, func(core.Action) float64 { return 1e6 })

	actor, critic := p.Actor().Clone(), p.Critic().Clone()
	res, err := p.Train()
	require.NoError(t, err)
	require.True(t, res.Trained)
	assert.True(t, p.Actor().AllFinite())
	assert.True(t, p.Critic().AllFinite())

	// the bound holds for the whole call, not per epoch
	assert.LessOrEqual(t, p.Actor().Distance(actor), config.Hyperparameters.LearningRate*config.GradClip+1e-12)
	assert.LessOrEqual(t, p.Critic().Distance(critic), config.CriticLearningRate*config.GradClip+1e-12)
	assert.Greater(t, p.Critic().Distance(critic), 0.0)
}

func TestPPODiscardDropsTrajectoryWithoutTraining(t *testing.T) {
	p, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)
	recordEpisode(p, 4, func(core.Action) float64 { return 1 })
	require.Equal(t, 4, p.TrajectoryLen())

	actor, critic := p.Actor().Clone(), p.Critic().Clone()
	p.Discard()
	assert.Equal(t, 0, p.TrajectoryLen())
	assert.Equal(t, 0.0, p.Actor().Distance(actor))
	assert.Equal(t, 0.0, p.Critic().Distance(critic))

	res, err := p.EndEpisode()
	require.NoError(t, err)
	assert.False(t, res.Trained)
}

func TestPPOAbortsOnMalformedTrajectory(t *testing.T) {
	p, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)
	recordEpisode(p, 3, func(core.Action) float64 { return math.NaN() })

	actor := p.Actor().Clone()
	res, err := p.Train()
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.False(t, res.Trained)
	assert.Equal(t, 0, p.TrajectoryLen())
	assert.Equal(t, 0.0, p.Actor().Distance(actor))
}

func TestPPOEscalatesNonFiniteParameters(t *testing.T) {
	p, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)
	recordEpisode(p, 3, func(core.Action) float64 { return 1 })
	p.Critic().Layers[0].B.SetVec(0, math.NaN())

	_, err = p.Train()
	assert.ErrorIs(t, err, core.ErrNonFiniteParameters)
	assert.Equal(t, 0, p.TrajectoryLen())
}

func TestPPOLearnsRewardedAction(t *testing.T) {
	config := testPPOConfig()
	config.Hyperparameters.LearningRate = 0.2
	config.CriticLearningRate = 0.05
	p, err := NewPPO(testObsSize, config)
	require.NoError(t, err)

	obs := testObservation(0.5)
	before := nn.Softmax(p.Actor().Forward(obs))[core.ActionJump]
	for episode := 0; episode < 400; episode++ {
		recordEpisode(p, 1, func(a core.Action) float64 {
			if a == core.ActionJump {
				return 1
			}
			return 0
		})
		_, err := p.EndEpisode()
		require.NoError(t, err)
	}
	after := nn.Softmax(p.Actor().Forward(obs))[core.ActionJump]
	assert.Greater(t, after, before)
	assert.Greater(t, after, 0.5)
}

func TestPPOHyperparametersAreLateBound(t *testing.T) {
	p, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)

	h := p.Hyperparameters()
	h.EntropyCoef = 0.05
	h.Epochs = 2
	require.NoError(t, p.SetHyperparameters(h))
	assert.Equal(t, h, p.Hyperparameters())

	h.ClipRange = 1.5
	assert.Error(t, p.SetHyperparameters(h))
	assert.Equal(t, 0.05, p.Hyperparameters().EntropyCoef)
}

func TestPPOParametersRoundTrip(t *testing.T) {
	a, err := NewPPO(testObsSize, testPPOConfig())
	require.NoError(t, err)
	config := testPPOConfig()
	config.Seed = 9
	b, err := NewPPO(testObsSize, config)
	require.NoError(t, err)

	require.NoError(t, b.LoadParameters(a.Parameters()))
	assert.Equal(t, 0.0, a.Actor().Distance(b.Actor()))
	assert.Equal(t, 0.0, a.Critic().Distance(b.Critic()))

	partial := a.Parameters()
	delete(partial, "critic/layer0.bias")
	c, err := NewPPO(testObsSize, config)
	require.NoError(t, err)
	actor := c.Actor().Clone()
	assert.Error(t, c.LoadParameters(partial))
	assert.Equal(t, 0.0, c.Actor().Distance(actor))
}
