package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zeu5/stair-rl/benchmarks/common"
	"github.com/zeu5/stair-rl/core"
	"github.com/zeu5/stair-rl/stairs"
	"github.com/zeu5/stair-rl/util"
)

func EvalCommand() *cobra.Command {
	a := common.AgentFlags{}
	cmd := &cobra.Command{
		Use:       "eval [dqn|ppo|tabular]",
		Short:     "Evaluate a saved model greedily",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{common.AgentDQN, common.AgentPPO, common.AgentTabular},
		RunE: func(cmd *cobra.Command, args []string) error {
			return evaluate(args[0], a)
		},
	}
	cmd.Flags().IntSliceVar(&a.Hidden, "hidden", a.Hidden, "Hidden layer sizes of the saved model, empty keeps the default")
	return cmd
}

func evaluate(name string, a common.AgentFlags) error {
	if flags.ModelID == "" {
		return errors.New("--model-id is required")
	}
	log := logger.WithFields(logrus.Fields{"agent": name, "model_id": flags.ModelID})

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	params, meta, err := modelStore.Load(ctx, flags.ModelID)
	if err != nil {
		return fmt.Errorf("error loading model: %w", err)
	}
	if err := agent.LoadParameters(params); err != nil {
		return fmt.Errorf("error loading parameters: %w", err)
	}
	if hash, ok := meta.Attributes["reward_hash"]; ok && hash != envConfig.Reward.Hash() {
		log.Warn("model was trained with different reward constants")
	}
	if err := env.SetLevel(meta.Level); err != nil {
		log.WithError(err).Warn("saved level does not exist, evaluating on the first level")
	}

	trainer := core.NewTrainer(env, agent, flags.TrainerConfig("eval", flags.ModelID), core.WithLogger(logger))
	stats, err := trainer.Evaluate(ctx, flags.EvalEpisodes)
	if err != nil {
		return err
	}

	if err := util.SaveJson(path.Join(flags.SavePath, "eval", flags.ModelID+".json"), stats); err != nil {
		log.WithError(err).Warn("failed to save evaluation stats")
	}
	log.WithFields(logrus.Fields{
		"episodes":        stats.Episodes,
		"successes":       stats.Successes,
		"level":           stats.Level,
		"highest_support": stats.HighestSupport,
		"mean_reward":     stats.RollingReward(),
	}).Info("evaluation finished")
	return nil
}
