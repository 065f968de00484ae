package analysis

import (
	"path"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/util"
)

// SuccessAnalyzer tracks how far up the staircase episodes get
type SuccessAnalyzer struct {
	window   int
	success  *Curve
	highest  *Curve
	levels   []int
	outcomes map[string]int
}

var _ core.Analyzer = &SuccessAnalyzer{}

func NewSuccessAnalyzer(window int) *SuccessAnalyzer {
	s := &SuccessAnalyzer{window: window}
	s.Reset()
	return s
}

func (s *SuccessAnalyzer) Analyze(summary core.EpisodeSummary) {
	success := 0.0
	if summary.Outcome.Success() {
		success = 1
	}
	s.success.add(summary.Episode, success)
	s.highest.add(summary.Episode, float64(summary.HighestSupport))
	s.levels = append(s.levels, summary.Level)
	s.outcomes[summary.Outcome.String()]++
}

// SuccessDataSet is the DataSet of a SuccessAnalyzer
type SuccessDataSet struct {
	Success  *Curve         `json:"success"`
	Highest  *Curve         `json:"highest_support"`
	Levels   []int          `json:"levels"`
	Outcomes map[string]int `json:"outcomes"`
}

func (s *SuccessAnalyzer) DataSet() core.DataSet {
	outcomes := make(map[string]int, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	return &SuccessDataSet{
		Success:  s.success.Copy(),
		Highest:  s.highest.Copy(),
		Levels:   append([]int(nil), s.levels...),
		Outcomes: outcomes,
	}
}

func (s *SuccessAnalyzer) Reset() {
	s.success = newCurve(s.window)
	s.highest = newCurve(s.window)
	s.levels = make([]int, 0)
	s.outcomes = make(map[string]int)
}

type SuccessAnalyzerConstructor struct {
	Window int
}

var _ core.AnalyzerConstructor = &SuccessAnalyzerConstructor{}

func (c *SuccessAnalyzerConstructor) NewAnalyzer(_ string, _ int) core.Analyzer {
	return NewSuccessAnalyzer(c.Window)
}

// SuccessComparator plots the rolling success rate and highest support
type SuccessComparator struct {
	savePath string
	logger   logrus.FieldLogger
}

var _ core.Comparator = &SuccessComparator{}

func NewSuccessComparator(savePath string, logger logrus.FieldLogger) *SuccessComparator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ensureDir(savePath)
	return &SuccessComparator{
		savePath: savePath,
		logger:   logger,
	}
}

func (c *SuccessComparator) Compare(names []string, datasets []core.DataSet) {
	out := make(map[string]*SuccessDataSet)
	success := make([]*Curve, len(names))
	highest := make([]*Curve, len(names))
	for i, name := range names {
		ds, ok := datasets[i].(*SuccessDataSet)
		if !ok {
			continue
		}
		out[name] = ds
		success[i] = ds.Success
		highest[i] = ds.Highest
	}
	if err := util.SaveJson(path.Join(c.savePath, "success.json"), out); err != nil {
		c.logger.WithError(err).Warn("failed to save success data")
	}
	if err := plotCurves(path.Join(c.savePath, "success_rate.png"), "Rolling success rate", "Success rate", names, success); err != nil {
		c.logger.WithError(err).Warn("failed to plot success rate")
	}
	if err := plotCurves(path.Join(c.savePath, "highest_support.png"), "Rolling highest support", "Support index", names, highest); err != nil {
		c.logger.WithError(err).Warn("failed to plot highest support")
	}
}

type SuccessComparatorConstructor struct {
	SavePath string
	Logger   logrus.FieldLogger
}

var _ core.ComparatorConstructor = &SuccessComparatorConstructor{}

func (c *SuccessComparatorConstructor) NewComparator(run int) core.Comparator {
	return NewSuccessComparator(path.Join(c.SavePath, strconv.Itoa(run)), c.Logger)
}
