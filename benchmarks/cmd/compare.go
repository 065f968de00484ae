package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zeu5/stair-rl/analysis"
	"github.com/zeu5/stair-rl/benchmarks/common"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/stairs"
)

func CompareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [agents...]",
		Short: "Train several agents with the same settings and plot their learning curves",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{common.AgentDQN, common.AgentPPO, common.AgentTabular, common.AgentRandom}
			}
			return compare(args)
		},
	}
	return cmd
}

func compare(agents []string) error {
	envConfig, err := flags.EnvConfig()
	if err != nil {
		return err
	}
	modelStore, closeStore, err := flags.NewStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	comparison := core.NewComparison(flags.TrainerConfig("", ""),
		core.WithLogger(logger),
		core.WithStore(modelStore),
	)
	for _, name := range agents {
		agentConstructor, err := flags.AgentConstructor(name, common.AgentFlags{})
		if err != nil {
			return err
		}
		comparison.AddExperiment(&core.Experiment{
			Name: name,
			Environment: func() (core.Environment, error) {
				return stairs.NewEnv(envConfig, logger)
			},
			Agent: agentConstructor,
		})
	}

	savePath := path.Join(flags.SavePath, "compare")
	comparison.AddAnalysis("reward",
		&analysis.RewardAnalyzerConstructor{Window: flags.StatsWindow},
		&analysis.RewardComparatorConstructor{SavePath: savePath, Logger: logger},
	)
	comparison.AddAnalysis("success",
		&analysis.SuccessAnalyzerConstructor{Window: flags.StatsWindow},
		&analysis.SuccessComparatorConstructor{SavePath: savePath, Logger: logger},
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt) // channel for interrupts from os
	defer signal.Stop(sigCh)

	doneCh := make(chan struct{}) // channel for done signal from application

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-sigCh:
		case <-doneCh:
		}
		cancel()
	}()

	results := comparison.Run(ctx, flags.NumRuns)
	close(doneCh)

	var errs []error
	for run, result := range results {
		for name, r := range result {
			log := logger.WithFields(logrus.Fields{"agent": name, "run": run})
			if r.IsError() {
				log.WithError(r.Err).Error("experiment failed")
				errs = append(errs, r.Err)
				continue
			}
			log.WithFields(logrus.Fields{
				"episodes":     r.Stats.Episodes,
				"successes":    r.Stats.Successes,
				"level":        r.Stats.Level,
				"success_rate": r.Stats.RollingSuccessRate(),
			}).Info("experiment finished")
		}
	}
	return errors.Join(errs...)
}
