package policies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	erand "golang.org/x/exp/rand"

	"github.com/zeu5/stair-rl/core"
)

func TestReplayBufferEvictsOldestFirst(t *testing.T) {
	const capacity, extra = 5, 3
	b := NewReplayBuffer(capacity)
	for i := 0; i < capacity+extra; i++ {
		b.Add(core.Transition{Reward: float64(i)})
	}
	require.Equal(t, capacity, b.Len())
	assert.Equal(t, capacity, b.Capacity())

	// the extra newest entries plus the capacity-extra most recent older ones
	for i := 0; i < capacity; i++ {
		assert.Equal(t, float64(extra+i), b.At(i).Reward)
	}
}

func TestReplayBufferBeforeFull(t *testing.T) {
	b := NewReplayBuffer(4)
	b.Add(core.Transition{Reward: 1})
	b.Add(core.Transition{Reward: 2})
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1.0, b.At(0).Reward)
	assert.Equal(t, 2.0, b.At(1).Reward)
	assert.Panics(t, func() { b.At(2) })
}

func TestReplayBufferSampleIsDistinct(t *testing.T) {
	b := NewReplayBuffer(100)
	for i := 0; i < 50; i++ {
		b.Add(core.Transition{Reward: float64(i)})
	}
	src := erand.NewSource(3)
	batch := b.Sample(20, src)
	require.Len(t, batch, 20)
	seen := make(map[float64]bool)
	for _, t := range batch {
		seen[t.Reward] = true
	}
	assert.Len(t, seen, 20)

	assert.Len(t, b.Sample(500, src), 50)
	b.Clear()
	assert.Empty(t, b.Sample(10, src))
}
