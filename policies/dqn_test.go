package policies

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/nn"
)

const testObsSize = 13

func testObservation(v float64) core.Observation {
	obs := make(core.Observation, testObsSize)
	for i := range obs {
		obs[i] = v * float64(i+1) / testObsSize
	}
	return obs
}

func testDQNConfig() DQNConfig {
	c := DefaultDQNConfig()
	c.Hidden = []int{16}
	c.BatchSize = 8
	c.WarmupTransitions = 1 << 30
	c.Seed = 42
	return c
}

func fillReplay(d *DQN, n int, reward float64, done bool) {
	for i := 0; i < n; i++ {
		d.Observe(core.Transition{
			State:     testObservation(float64(i)),
			Action:    core.Action(i % core.NumActions),
			Reward:    reward,
			NextState: testObservation(float64(i + 1)),
			Done:      done,
		})
	}
}

func TestDQNPathologicalRewardIsClipped(t *testing.T) {
	config := testDQNConfig()
	config.GradClip = 1
	config.LearningRate = 0.01
	config.TargetClamp = 1e9
	d, err := NewDQN(testObsSize, config)
	require.NoError(t, err)
	fillReplay(d, 8, 1e6, true)

	before := d.Online().Clone()
	res, err := d.Train(8)
	require.NoError(t, err)
	assert.True(t, res.Trained)
	assert.Greater(t, res.GradNorm, config.GradClip)
	assert.True(t, d.Online().AllFinite())
	assert.LessOrEqual(t, d.Online().Distance(before), config.LearningRate*config.GradClip+1e-12)
}

func TestDQNClampsTargets(t *testing.T) {
	config := testDQNConfig()
	d, err := NewDQN(testObsSize, config)
	require.NoError(t, err)
	fillReplay(d, 8, 1e6, true)

	res, err := d.Train(8)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Samples)
	// outputs start near zero so each squared error is close to the clamp squared
	assert.InDelta(t, config.TargetClamp*config.TargetClamp, res.Loss, 0.05*config.TargetClamp*config.TargetClamp)
}

func TestDQNSkipsNonFiniteSamples(t *testing.T) {
	d, err := NewDQN(testObsSize, testDQNConfig())
	require.NoError(t, err)
	fillReplay(d, 4, math.NaN(), true)
	d.Observe(core.Transition{State: core.Observation{1, 2}, Action: core.ActionJump, Done: true})

	before := d.Online().Clone()
	res, err := d.Train(8)
	require.NoError(t, err)
	assert.False(t, res.Trained)
	assert.Equal(t, 5, res.Skipped)
	assert.Equal(t, 0.0, d.Online().Distance(before))

	fillReplay(d, 3, 1, false)
	res, err = d.Train(8)
	require.NoError(t, err)
	assert.True(t, res.Trained)
	assert.Equal(t, 3, res.Samples)
	assert.Equal(t, 5, res.Skipped)
}

func TestDQNTargetNetworkSync(t *testing.T) {
	config := testDQNConfig()
	config.TargetSyncEvery = 2
	d, err := NewDQN(testObsSize, config)
	require.NoError(t, err)
	fillReplay(d, 8, 1, false)

	_, err = d.Train(8)
	require.NoError(t, err)
	assert.Greater(t, d.Online().Distance(d.Target()), 0.0)

	_, err = d.Train(8)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Online().Distance(d.Target()))

	synced := d.Target().Clone()
	_, err = d.Train(8)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Target().Distance(synced))
	assert.Greater(t, d.Online().Distance(d.Target()), 0.0)
}

func TestDQNTrainsAfterWarmup(t *testing.T) {
	config := testDQNConfig()
	config.WarmupTransitions = 10
	config.TrainEvery = 5
	config.BatchSize = 4
	d, err := NewDQN(testObsSize, config)
	require.NoError(t, err)

	fillReplay(d, 9, 1, false)
	assert.Equal(t, 0, d.TrainSteps())
	fillReplay(d, 1, 1, false)
	assert.Equal(t, 1, d.TrainSteps())
	fillReplay(d, 5, 1, false)
	assert.Equal(t, 2, d.TrainSteps())
	assert.Equal(t, 15, d.Replay().Len())
}

func TestDQNEscalatesNonFiniteParameters(t *testing.T) {
	d, err := NewDQN(testObsSize, testDQNConfig())
	require.NoError(t, err)
	fillReplay(d, 8, 1, true)
	d.Online().Layers[0].W.Set(0, 0, math.Inf(1))

	_, err = d.Train(8)
	assert.ErrorIs(t, err, core.ErrNonFiniteParameters)
}

func TestDQNEpsilonDecaysToFloor(t *testing.T) {
	config := testDQNConfig()
	config.EpsilonDecay = 0.5
	config.EpsilonMin = 0.1
	d, err := NewDQN(testObsSize, config)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Epsilon())

	d.EndEpisode()
	assert.Equal(t, 0.5, d.Epsilon())
	for i := 0; i < 10; i++ {
		d.EndEpisode()
	}
	assert.Equal(t, 0.1, d.Epsilon())
}

func TestDQNGreedyActionIsArgmax(t *testing.T) {
	d, err := NewDQN(testObsSize, testDQNConfig())
	require.NoError(t, err)
	obs := testObservation(1)
	want := core.Action(nn.Argmax(d.Online().Forward(obs)))
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, d.Act(obs, false).Action)
	}
	assert.True(t, d.Act(core.Observation{1}, false).Action.Valid())
}

func TestDQNParametersRoundTrip(t *testing.T) {
	a, err := NewDQN(testObsSize, testDQNConfig())
	require.NoError(t, err)
	a.EndEpisode()

	config := testDQNConfig()
	config.Seed = 7
	b, err := NewDQN(testObsSize, config)
	require.NoError(t, err)
	require.NoError(t, b.LoadParameters(a.Parameters()))
	assert.Equal(t, 0.0, a.Online().Distance(b.Online()))
	assert.Equal(t, 0.0, b.Online().Distance(b.Target()))
	assert.Equal(t, a.Epsilon(), b.Epsilon())

	assert.Error(t, b.LoadParameters(map[string][]float64{}))
}
