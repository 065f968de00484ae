package cmd

import (
	"github.com/spf13/cobra"
)

func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stair-rl",
		Short:         "Train agents to climb a staircase",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := UpdateFlags(cmd); err != nil {
				return err
			}
			if err := flags.Record(); err != nil {
				logger.WithError(err).Warn("failed to record flags")
			}
			return nil
		},
	}
	AddFlags(cmd)

	cmd.AddCommand(
		TrainCommand(),
		EvalCommand(),
		CompareCommand(),
	)

	return cmd
}
