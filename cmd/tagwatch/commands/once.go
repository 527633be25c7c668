package commands

import (
	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle followed by a retry pass, then exit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		noRetry, err := cmd.Flags().GetBool("no-retry")
		if err != nil {
			return err
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.orchestrator.RunCycle(ctx)
		renderCycle(result)

		if !noRetry {
			renderPass(a.coordinator.RunPass(ctx))
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Attempt delivery of every pending release once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		renderPass(a.coordinator.RunPass(ctx))
		return nil
	},
}

func init() {
	onceCmd.Flags().Bool("no-retry", false, "Skip the retry pass after the cycle.")
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(retryCmd)
}
