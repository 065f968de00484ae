package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

// MemoryStore keeps checkpoints in process, used by tests and dry runs
type MemoryStore struct {
	lock   sync.Mutex
	models map[string]checkpoint
	saves  int
}

var _ core.ModelStore = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models: make(map[string]checkpoint),
	}
}

func (m *MemoryStore) Save(_ context.Context, id string, params map[string][]float64, meta core.ModelMetadata) error {
	if err := validateID(id); err != nil {
		return err
	}
	cp := newCheckpoint(params, meta)
	if err := cp.validate(); err != nil {
		return err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.models[id] = cp
	m.saves++
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (map[string][]float64, core.ModelMetadata, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	cp, ok := m.models[id]
	if !ok {
		return nil, core.ModelMetadata{}, fmt.Errorf("%w: %s", core.ErrModelNotFound, id)
	}
	return util.CopyStringFloatsMap(cp.Parameters), cp.Metadata, nil
}

// Saves counts successful Save calls
func (m *MemoryStore) Saves() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.saves
}
