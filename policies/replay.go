package policies

import (
	"github.com/zeu5/stair-rl/core"
	erand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// ReplayBuffer is a fixed capacity ring of transitions. Once full, every
// Add overwrites the oldest entry.
type ReplayBuffer struct {
	items    []core.Transition
	capacity int
	next     int
	size     int
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayBuffer{
		items:    make([]core.Transition, capacity),
		capacity: capacity,
	}
}

func (b *ReplayBuffer) Add(t core.Transition) {
	b.items[b.next] = t
	b.next = (b.next + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

func (b *ReplayBuffer) Len() int {
	return b.size
}

func (b *ReplayBuffer) Capacity() int {
	return b.capacity
}

// At returns the i-th stored transition counting from the oldest
func (b *ReplayBuffer) At(i int) core.Transition {
	if i < 0 || i >= b.size {
		panic("replay buffer index out of range")
	}
	start := 0
	if b.size == b.capacity {
		start = b.next
	}
	return b.items[(start+i)%b.capacity]
}

// Sample draws up to n distinct transitions uniformly at random
func (b *ReplayBuffer) Sample(n int, src erand.Source) []core.Transition {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	idx := make([]int, n)
	sampleuv.WithoutReplacement(idx, b.size, src)
	out := make([]core.Transition, n)
	for i, j := range idx {
		out[i] = b.items[j]
	}
	return out
}

func (b *ReplayBuffer) Clear() {
	b.items = make([]core.Transition, b.capacity)
	b.next = 0
	b.size = 0
}
