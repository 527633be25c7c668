package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print release counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Stats(ctx)
		if err != nil {
			return err
		}
		renderStats(stats)
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recently discovered releases.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		releases, err := a.store.Recent(ctx, limit)
		if err != nil {
			return err
		}
		renderReleases(releases)
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete releases discovered more than --days ago.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		days, err := cmd.Flags().GetInt("days")
		if err != nil {
			return err
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if !cmd.Flags().Changed("days") {
			days = a.cfg.Store.RetentionDays
		}
		if days <= 0 {
			return fmt.Errorf("--days must be positive, got %d", days)
		}

		removed, err := a.store.PurgeOlderThan(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d release(s) older than %d day(s)\n", removed, days)
		return nil
	},
}

func init() {
	recentCmd.Flags().Int("limit", 20, "Maximum number of releases to list, negative lists all.")
	purgeCmd.Flags().Int("days", 0, "Age in days, defaults to store.retention_days.")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(purgeCmd)
}
