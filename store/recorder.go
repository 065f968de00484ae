package store

import (
	"sync"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

// JSONLRecorder appends every episode summary as one JSON line
type JSONLRecorder struct {
	path string
	// keep the full transition list in every line
	transitions bool
	lock        sync.Mutex
}

var _ core.TrajectoryRecorder = &JSONLRecorder{}

func NewJSONLRecorder(path string, transitions bool) *JSONLRecorder {
	return &JSONLRecorder{
		path:        path,
		transitions: transitions,
	}
}

func (r *JSONLRecorder) Record(summary core.EpisodeSummary) error {
	if !r.transitions {
		summary.Transitions = nil
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	return util.AppendJsonLine(r.path, summary)
}
