package policies

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

// QTable maps a state key to one value per action. Unseen states start
// at the initial value.
type QTable struct {
	table   map[string][]float64
	initial float64
}

func NewQTable(initial float64) *QTable {
	return &QTable{
		table:   make(map[string][]float64),
		initial: initial,
	}
}

// Get returns the row of state, creating it if needed. The row is owned by the table.
func (q *QTable) Get(state string) []float64 {
	row, ok := q.table[state]
	if !ok {
		row = make([]float64, core.NumActions)
		for i := range row {
			row[i] = q.initial
		}
		q.table[state] = row
	}
	return row
}

func (q *QTable) Value(state string, a core.Action) float64 {
	row, ok := q.table[state]
	if !ok {
		return q.initial
	}
	return row[a]
}

func (q *QTable) Set(state string, a core.Action, val float64) {
	q.Get(state)[a] = val
}

func (q *QTable) HasState(state string) bool {
	_, ok := q.table[state]
	return ok
}

// Max returns the best action of state and its value, ties go to the lowest action
func (q *QTable) Max(state string) (core.Action, float64) {
	row, ok := q.table[state]
	if !ok {
		return core.ActionForward, q.initial
	}
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return core.Action(best), row[best]
}

func (q *QTable) Size() int {
	return len(q.table)
}

// Parameters exports every row under prefix+state
func (q *QTable) Parameters(prefix string) map[string][]float64 {
	out := make(map[string][]float64, len(q.table))
	for state, row := range q.table {
		out[prefix+state] = util.CopyFloatSlice(row)
	}
	return out
}

// Load replaces the table with the rows under prefix. Nothing changes on error.
func (q *QTable) Load(prefix string, params map[string][]float64) error {
	table := make(map[string][]float64, len(params))
	for key, row := range params {
		state, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		if len(row) != core.NumActions {
			return fmt.Errorf("q table row %q has %d values, expected %d", state, len(row), core.NumActions)
		}
		if !util.AllFinite(row) {
			return fmt.Errorf("q table row %q: %w", state, core.ErrNonFiniteParameters)
		}
		table[state] = util.CopyFloatSlice(row)
	}
	q.table = table
	return nil
}

// StateKey buckets every observation component by resolution and joins
// the bucket indices
func StateKey(obs core.Observation, resolution float64) string {
	var b strings.Builder
	for i, v := range obs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(math.Floor(v / resolution))))
	}
	return b.String()
}
