package analysis

import (
	"path"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

// RewardAnalyzer records the total reward and length of every episode
type RewardAnalyzer struct {
	window  int
	rewards *Curve
	steps   *Curve
}

var _ core.Analyzer = &RewardAnalyzer{}

func NewRewardAnalyzer(window int) *RewardAnalyzer {
	return &RewardAnalyzer{
		window:  window,
		rewards: newCurve(window),
		steps:   newCurve(window),
	}
}

func (r *RewardAnalyzer) Analyze(summary core.EpisodeSummary) {
	r.rewards.add(summary.Episode, summary.TotalReward)
	r.steps.add(summary.Episode, float64(summary.Steps))
}

// RewardDataSet is the DataSet of a RewardAnalyzer
type RewardDataSet struct {
	Rewards *Curve `json:"rewards"`
	Steps   *Curve `json:"steps"`
}

func (r *RewardAnalyzer) DataSet() core.DataSet {
	return &RewardDataSet{
		Rewards: r.rewards.Copy(),
		Steps:   r.steps.Copy(),
	}
}

func (r *RewardAnalyzer) Reset() {
	r.rewards = newCurve(r.window)
	r.steps = newCurve(r.window)
}

type RewardAnalyzerConstructor struct {
	Window int
}

var _ core.AnalyzerConstructor = &RewardAnalyzerConstructor{}

func (c *RewardAnalyzerConstructor) NewAnalyzer(_ string, _ int) core.Analyzer {
	return NewRewardAnalyzer(c.Window)
}

// RewardComparator writes the datasets as JSON and plots the rolling
// rewards of all experiments on one chart
type RewardComparator struct {
	savePath string
	logger   logrus.FieldLogger
}

var _ core.Comparator = &RewardComparator{}

func NewRewardComparator(savePath string, logger logrus.FieldLogger) *RewardComparator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ensureDir(savePath)
	return &RewardComparator{
		savePath: savePath,
		logger:   logger,
	}
}

func (c *RewardComparator) Compare(names []string, datasets []core.DataSet) {
	out := make(map[string]*RewardDataSet)
	rewards := make([]*Curve, len(names))
	for i, name := range names {
		ds, ok := datasets[i].(*RewardDataSet)
		if !ok {
			continue
		}
		out[name] = ds
		rewards[i] = ds.Rewards
	}
	if err := util.SaveJson(path.Join(c.savePath, "rewards.json"), out); err != nil {
		c.logger.WithError(err).Warn("failed to save reward data")
	}
	if err := plotCurves(path.Join(c.savePath, "rewards.png"), "Rolling episode reward", "Reward", names, rewards); err != nil {
		c.logger.WithError(err).Warn("failed to plot rewards")
	}
}

type RewardComparatorConstructor struct {
	SavePath string
	Logger   logrus.FieldLogger
}

var _ core.ComparatorConstructor = &RewardComparatorConstructor{}

func (c *RewardComparatorConstructor) NewComparator(run int) core.Comparator {
	return NewRewardComparator(path.Join(c.SavePath, strconv.Itoa(run)), c.Logger)
}
