package core

import (
	"context"
	"errors"
	"time"
)

var (
	ErrModelNotFound = errors.New("model not found")
)

// EpisodeSummary is produced once per completed episode
type EpisodeSummary struct {
	RunID          string        `json:"run_id"`
	Episode        int           `json:"episode"`
	Level          int           `json:"level"`
	TotalReward    float64       `json:"total_reward"`
	Steps          int           `json:"steps"`
	HighestSupport int           `json:"highest_support"`
	Outcome        Outcome       `json:"outcome"`
	Duration       time.Duration `json:"duration"`
	Train          TrainResult   `json:"train"`
	Stopped        bool          `json:"stopped"`
	Transitions    []Transition  `json:"transitions,omitempty"`
}

type DataSet interface{}

// Analyzer consumes completed episodes and accumulates a dataset
type Analyzer interface {
	Analyze(EpisodeSummary)
	DataSet() DataSet
	Reset()
}

type Comparator interface {
	Compare([]string, []DataSet)
}

// ModelMetadata accompanies saved parameters
type ModelMetadata struct {
	Agent      string            `json:"agent"`
	Episode    int               `json:"episode"`
	Level      int               `json:"level"`
	SavedAt    time.Time         `json:"saved_at"`
	Stats      TrainingStats     `json:"stats"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ModelStore persists agent parameters. Failures are reported to the
// caller, which logs them and keeps training in memory.
type ModelStore interface {
	Save(ctx context.Context, id string, params map[string][]float64, meta ModelMetadata) error
	Load(ctx context.Context, id string) (map[string][]float64, ModelMetadata, error)
}

// TrajectoryRecorder receives every completed episode. The trainer never reads it back.
type TrajectoryRecorder interface {
	Record(EpisodeSummary) error
}

type AnalyzerConstructor interface {
	// new analyzer based on experiment name and run
	NewAnalyzer(string, int) Analyzer
}

type ComparatorConstructor interface {
	NewComparator(int) Comparator
}

// EnvironmentConstructor creates a fresh environment, one per experiment run
type EnvironmentConstructor func() (Environment, error)
