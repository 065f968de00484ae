package core

import (
	"context"
	"fmt"
	"sort"
)

// Experiment pairs an agent with an environment under a name
type Experiment struct {
	Name        string
	Environment EnvironmentConstructor
	Agent       AgentConstructor
}

// Comparison trains every experiment with the same trainer config and
// hands the analyzer datasets of each run to the comparators
type Comparison struct {
	Experiments []*Experiment
	Analyzers   map[string]AnalyzerConstructor
	Comparators map[string]ComparatorConstructor
	Config      TrainerConfig
	Options     []TrainerOption
}

func NewComparison(config TrainerConfig, opts ...TrainerOption) *Comparison {
	return &Comparison{
		Experiments: make([]*Experiment, 0),
		Analyzers:   make(map[string]AnalyzerConstructor),
		Comparators: make(map[string]ComparatorConstructor),
		Config:      config,
		Options:     opts,
	}
}

func (c *Comparison) AddExperiment(e *Experiment) {
	c.Experiments = append(c.Experiments, e)
}

func (c *Comparison) AddAnalysis(name string, a AnalyzerConstructor, cmp ComparatorConstructor) {
	c.Analyzers[name] = a
	c.Comparators[name] = cmp
}

type ExperimentResult struct {
	Stats    TrainingStats
	Datasets map[string]DataSet
	Err      error
}

func (r *ExperimentResult) IsError() bool {
	return r.Err != nil
}

func (e *Experiment) run(ctx context.Context, run int, c *Comparison) *ExperimentResult {
	result := &ExperimentResult{Datasets: make(map[string]DataSet)}
	env, err := e.Environment()
	if err != nil {
		result.Err = fmt.Errorf("error creating environment: %w", err)
		return result
	}
	agent, err := e.Agent(env.ObservationSize())
	if err != nil {
		result.Err = fmt.Errorf("error creating agent: %w", err)
		return result
	}

	analyzers := make(map[string]Analyzer)
	opts := append([]TrainerOption(nil), c.Options...)
	for name, aC := range c.Analyzers {
		a := aC.NewAnalyzer(e.Name, run)
		analyzers[name] = a
		opts = append(opts, WithAnalyzer(name, a))
	}

	config := c.Config
	config.RunID = fmt.Sprintf("%s_%d", e.Name, run)
	config.ModelID = config.RunID
	result.Stats, result.Err = NewTrainer(env, agent, config, opts...).Run(ctx)

	for name, a := range analyzers {
		result.Datasets[name] = a.DataSet()
	}
	return result
}

// Run trains every experiment runs times, experiments of a run one after
// the other, and returns the results of every run keyed by experiment name
func (c *Comparison) Run(ctx context.Context, runs int) []map[string]*ExperimentResult {
	all := make([]map[string]*ExperimentResult, 0, runs)
	for run := 0; run < runs; run++ {
		if ctx.Err() != nil {
			return all
		}

		results := make(map[string]*ExperimentResult)
		for _, e := range c.Experiments {
			if ctx.Err() != nil {
				return all
			}
			results[e.Name] = e.run(ctx, run, c)
		}
		all = append(all, results)

		experimentNames := make([]string, 0, len(results))
		for name := range results {
			experimentNames = append(experimentNames, name)
		}
		sort.Strings(experimentNames)

		for name, cmpC := range c.Comparators {
			datasets := make([]DataSet, len(experimentNames))
			for i, exp := range experimentNames {
				if result := results[exp]; result.Datasets != nil {
					datasets[i] = result.Datasets[name]
				}
			}
			cmpC.NewComparator(run).Compare(experimentNames, datasets)
		}
	}
	return all
}
