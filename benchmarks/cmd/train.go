package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zeu5/stair-rl/benchmarks/common"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/stairs"
	"github.com/zeu5/stair-rl/store"
	"github.com/zeu5/stair-rl/util"
)

func TrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent on the staircase",
	}

	cmd.AddCommand(
		trainDQNCommand(),
		trainPPOCommand(),
		trainTabularCommand(),
		trainRandomCommand(),
	)

	return cmd
}

func trainDQNCommand() *cobra.Command {
	a := common.AgentFlags{}
	cmd := &cobra.Command{
		Use:   common.AgentDQN,
		Short: "Train a DQN agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(common.AgentDQN, a)
		},
	}
	agentFlags(cmd, &a)
	cmd.Flags().IntVar(&a.BatchSize, "batch-size", a.BatchSize, "Replay minibatch size, 0 keeps the default")
	return cmd
}

func trainPPOCommand() *cobra.Command {
	a := common.AgentFlags{EntropyDecay: 1}
	cmd := &cobra.Command{
		Use:   common.AgentPPO,
		Short: "Train a PPO agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(common.AgentPPO, a)
		},
	}
	agentFlags(cmd, &a)
	cmd.Flags().Float64Var(&a.EntropyCoef, "entropy-coef", a.EntropyCoef, "Entropy bonus coefficient, 0 keeps the default")
	cmd.Flags().Float64Var(&a.ClipRange, "clip-range", a.ClipRange, "Surrogate clip range, 0 keeps the default")
	cmd.Flags().IntVar(&a.Epochs, "epochs", a.Epochs, "Epochs per trajectory, 0 keeps the default")
	cmd.Flags().Float64Var(&a.EntropyDecay, "entropy-decay", a.EntropyDecay, "Entropy coefficient factor applied on every level advance")
	return cmd
}

func trainTabularCommand() *cobra.Command {
	a := common.AgentFlags{}
	cmd := &cobra.Command{
		Use:   common.AgentTabular,
		Short: "Train the tabular softmax Q-learning baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(common.AgentTabular, a)
		},
	}
	cmd.Flags().Float64Var(&a.LearningRate, "lr", a.LearningRate, "Q-learning step size, 0 keeps the default")
	cmd.Flags().Float64Var(&a.Resolution, "resolution", a.Resolution, "Observation bucket width, 0 keeps the default")
	return cmd
}

func trainRandomCommand() *cobra.Command {
	return &cobra.Command{
		Use:   common.AgentRandom,
		Short: "Run the random baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(common.AgentRandom, common.AgentFlags{})
		},
	}
}

func train(name string, a common.AgentFlags) error {
	runID := uuid.New().String()
	modelID := flags.ModelID
	if modelID == "" {
		modelID = fmt.Sprintf("%s-%s", name, runID)
	}
	log := logger.WithFields(logrus.Fields{"agent": name, "run_id": runID, "model_id": modelID})

	envConfig, err := flags.EnvConfig()
	if err != nil {
		return err
	}
	env, err := stairs.NewEnv(envConfig, logger)
	if err != nil {
		return fmt.Errorf("error creating environment: %w", err)
	}
	agentConstructor, err := flags.AgentConstructor(name, a)
	if err != nil {
		return err
	}
	agent, err := agentConstructor(env.ObservationSize())
	if err != nil {
		return fmt.Errorf("error creating agent: %w", err)
	}
	modelStore, closeStore, err := flags.NewStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()
	recorder := store.NewJSONLRecorder(path.Join(flags.SavePath, "trajectories", runID+".jsonl"), flags.RecordTransitions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := core.NewEventLoop(64)
	go loop.Run(ctx)
	defer loop.Close()

	progressWriter := logger.Writer()
	defer progressWriter.Close()
	printer := util.NewProgressPrinter(time.Second, util.IsTerminal(), progressWriter)
	out := printer.NewOutput()
	printer.Start(ctx)
	defer printer.Stop()

	schedule := common.NewEntropySchedule(agent, a.EntropyDecay)
	progress := func(s core.EpisodeSummary, stats core.TrainingStats) {
		out.TrySet(progressLine(name, s, stats))
		changed, err := schedule.Update(stats.Level)
		if err != nil {
			log.WithError(err).Warn("failed to update hyperparameters")
		} else if changed {
			log.WithField("level", stats.Level).Debug("lowered entropy coefficient")
		}
	}

	trainer := core.NewTrainer(env, agent, flags.TrainerConfig(runID, modelID),
		core.WithStore(modelStore),
		core.WithRecorder(recorder),
		core.WithYielder(loop),
		core.WithLogger(logger),
		core.WithProgress(progress),
		core.WithMetadata(map[string]string{
			"run_id":         runID,
			"engine":         envConfig.Engine,
			"reward_hash":    envConfig.Reward.Hash(),
			"reward_version": strconv.Itoa(envConfig.Reward.Version),
		}),
	)

	if flags.ControlAddr != "" {
		server := common.NewControlServer(flags.ControlAddr, trainer, loop, logger)
		server.Start()
		defer server.Shutdown()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt) // channel for interrupts from os
	defer signal.Stop(sigCh)

	doneCh := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			log.Info("interrupted, stopping after the current step")
			trainer.Stop()
		case <-doneCh:
			return
		}
		// a second interrupt abandons the run
		select {
		case <-sigCh:
			cancel()
		case <-doneCh:
		}
	}()

	log.WithField("episodes", flags.Episodes).Info("starting training")
	stats, err := trainer.Run(ctx)
	close(doneCh)

	log.WithFields(logrus.Fields{
		"episodes":        stats.Episodes,
		"successes":       stats.Successes,
		"level":           stats.Level,
		"highest_support": stats.HighestSupport,
		"rolling_reward":  stats.RollingReward(),
		"success_rate":    stats.RollingSuccessRate(),
	}).Info("training finished")
	return err
}

func progressLine(name string, s core.EpisodeSummary, stats core.TrainingStats) string {
	return fmt.Sprintf("[%s] episode %d level %d outcome %s steps %d reward %.2f | rolling reward %.2f success %.2f highest %d",
		name, s.Episode, stats.Level, s.Outcome, s.Steps, s.TotalReward,
		stats.RollingReward(), stats.RollingSuccessRate(), stats.HighestSupport)
}
