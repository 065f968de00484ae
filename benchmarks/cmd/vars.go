package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zeu5/stair-rl/benchmarks/common"
)

var (
	flags  *common.Flags = common.DefaultFlags()
	logger               = logrus.New()
)

var envFiles = []string{
	".env",
	"../.env",
	"../../.env",
}

func AddFlags(cmd *cobra.Command) {
	flags.AddFlags(cmd.PersistentFlags())
}

// UpdateFlags applies the .env overrides and the log level once the
// command line has been parsed
func UpdateFlags(cmd *cobra.Command) error {
	flags.LoadEnv(cmd.Flags(), envFiles...)
	if flags.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return flags.Validate()
}

func agentFlags(cmd *cobra.Command, a *common.AgentFlags) {
	cmd.Flags().IntSliceVar(&a.Hidden, "hidden", a.Hidden, "Hidden layer sizes, empty keeps the default")
	cmd.Flags().Float64Var(&a.LearningRate, "lr", a.LearningRate, "Learning rate, 0 keeps the default")
	cmd.Flags().Float64Var(&a.GradClip, "grad-clip", a.GradClip, "Global gradient norm clip, 0 keeps the default")
}
