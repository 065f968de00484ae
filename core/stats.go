package core

import (
	"gonum.org/v1/gonum/stat"
)

// TrainingStats aggregates completed episodes. It is a plain value owned
// by the Trainer and returned from Run; copies are safe to hand out.
type TrainingStats struct {
	Episodes        int            `json:"episodes"`
	Successes       int            `json:"successes"`
	TotalSteps      int            `json:"total_steps"`
	BestReward      float64        `json:"best_reward"`
	HighestSupport  int            `json:"highest_support"`
	InvalidEpisodes int            `json:"invalid_episodes"`
	Level           int            `json:"level"`
	Outcomes        map[string]int `json:"outcomes"`
	Window          int            `json:"window"`
	RecentRewards   []float64      `json:"recent_rewards"`
	RecentSuccesses []float64      `json:"recent_successes"`
	LastTrain       TrainResult    `json:"last_train"`
}

func NewTrainingStats(window int) TrainingStats {
	if window <= 0 {
		window = 1
	}
	return TrainingStats{
		HighestSupport:  -1,
		Outcomes:        make(map[string]int),
		Window:          window,
		RecentRewards:   make([]float64, 0, window),
		RecentSuccesses: make([]float64, 0, window),
	}
}

// Add folds one episode summary into the stats
func (s *TrainingStats) Add(summary EpisodeSummary) {
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]int)
	}
	if s.Episodes == 0 || summary.TotalReward > s.BestReward {
		s.BestReward = summary.TotalReward
	}
	s.Episodes++
	s.TotalSteps += summary.Steps
	s.Outcomes[summary.Outcome.String()]++
	if summary.Outcome.Success() {
		s.Successes++
	}
	if summary.Outcome == OutcomeInvalid {
		s.InvalidEpisodes++
	}
	if summary.HighestSupport > s.HighestSupport {
		s.HighestSupport = summary.HighestSupport
	}
	if summary.Train.Trained || summary.Train.Aborted {
		s.LastTrain = summary.Train
	}

	success := 0.0
	if summary.Outcome.Success() {
		success = 1.0
	}
	s.RecentRewards = pushWindow(s.RecentRewards, summary.TotalReward, s.Window)
	s.RecentSuccesses = pushWindow(s.RecentSuccesses, success, s.Window)
}

// RollingReward is the mean episode reward over the window
func (s TrainingStats) RollingReward() float64 {
	if len(s.RecentRewards) == 0 {
		return 0
	}
	return stat.Mean(s.RecentRewards, nil)
}

// RollingSuccessRate is the success fraction over the window
func (s TrainingStats) RollingSuccessRate() float64 {
	if len(s.RecentSuccesses) == 0 {
		return 0
	}
	return stat.Mean(s.RecentSuccesses, nil)
}

// Copy returns a deep copy
func (s TrainingStats) Copy() TrainingStats {
	out := s
	out.Outcomes = make(map[string]int, len(s.Outcomes))
	for k, v := range s.Outcomes {
		out.Outcomes[k] = v
	}
	out.RecentRewards = append(make([]float64, 0, s.Window), s.RecentRewards...)
	out.RecentSuccesses = append(make([]float64, 0, s.Window), s.RecentSuccesses...)
	return out
}

func pushWindow(w []float64, v float64, size int) []float64 {
	if len(w) >= size {
		copy(w, w[1:])
		w = w[:len(w)-1]
	}
	return append(w, v)
}
