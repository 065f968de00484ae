package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAnalyzer struct {
	episodes int
}

func (a *countingAnalyzer) Analyze(EpisodeSummary) { a.episodes++ }
func (a *countingAnalyzer) DataSet() DataSet       { return a.episodes }
func (a *countingAnalyzer) Reset()                 { a.episodes = 0 }

type countingAnalyzerConstructor struct{}

func (countingAnalyzerConstructor) NewAnalyzer(string, int) Analyzer { return &countingAnalyzer{} }

type capturingComparator struct {
	runs  *[]int
	names *[][]string
	data  *[][]DataSet
	run   int
}

func (c capturingComparator) Compare(names []string, ds []DataSet) {
	*c.runs = append(*c.runs, c.run)
	*c.names = append(*c.names, names)
	*c.data = append(*c.data, ds)
}

type capturingComparatorConstructor struct {
	runs  []int
	names [][]string
	data  [][]DataSet
}

func (c *capturingComparatorConstructor) NewComparator(run int) Comparator {
	return capturingComparator{runs: &c.runs, names: &c.names, data: &c.data, run: run}
}

func TestComparisonRunsEveryExperiment(t *testing.T) {
	comparison := NewComparison(testConfig(3), quiet())
	comparison.AddExperiment(&Experiment{
		Name:        "short",
		Environment: func() (Environment, error) { return newFakeEnv(2, OutcomeGoal), nil },
		Agent:       func(int) (Agent, error) { return &fakeAgent{}, nil },
	})
	comparison.AddExperiment(&Experiment{
		Name:        "broken",
		Environment: func() (Environment, error) { return nil, errors.New("no scene") },
		Agent:       func(int) (Agent, error) { return &fakeAgent{}, nil },
	})
	cmp := &capturingComparatorConstructor{}
	comparison.AddAnalysis("count", countingAnalyzerConstructor{}, cmp)

	results := comparison.Run(context.Background(), 2)
	require.Len(t, results, 2)

	short := results[0]["short"]
	require.False(t, short.IsError())
	assert.Equal(t, 3, short.Stats.Episodes)
	assert.Equal(t, 3, short.Datasets["count"])
	assert.True(t, results[1]["broken"].IsError())

	assert.Equal(t, []int{0, 1}, cmp.runs)
	assert.Equal(t, []string{"broken", "short"}, cmp.names[0])
	assert.Equal(t, []DataSet{nil, 3}, cmp.data[0])
}

func TestComparisonStopsOnCancelledContext(t *testing.T) {
	comparison := NewComparison(testConfig(3), quiet())
	comparison.AddExperiment(&Experiment{
		Name:        "a",
		Environment: func() (Environment, error) { return newFakeEnv(2, OutcomeGoal), nil },
		Agent:       func(int) (Agent, error) { return &fakeAgent{}, nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, comparison.Run(ctx, 3))
}
