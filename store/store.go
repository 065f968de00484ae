// Package store holds the persistence collaborators of the trainer:
// model stores keyed by model id and a trajectory recorder.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

var (
	ErrInvalidID = errors.New("invalid model id")
)

// checkpoint is the serialised form shared by every store
type checkpoint struct {
	Parameters map[string][]float64 `json:"parameters"`
	Metadata   core.ModelMetadata   `json:"metadata"`
}

func newCheckpoint(params map[string][]float64, meta core.ModelMetadata) checkpoint {
	return checkpoint{
		Parameters: util.CopyStringFloatsMap(params),
		Metadata:   meta,
	}
}

func (c checkpoint) validate() error {
	if c.Parameters == nil {
		return errors.New("checkpoint has no parameters")
	}
	for name, values := range c.Parameters {
		if !util.AllFinite(values) {
			return fmt.Errorf("parameter group %s is not finite", name)
		}
	}
	return nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
