package commands

import (
	"context"
	"fmt"
	"time"

	"tagwatch/internal/components/chrono"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/scheduler"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and retry coordinator until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		ctx := cmd.Context()
		now, err := cmd.Flags().GetBool("now")
		if err != nil {
			return err
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		times, err := a.cfg.DailyTimes()
		if err != nil {
			return err
		}

		telemetry.InstrumentPerfStats(ctx, a.tel)

		cron := chrono.NewStandardCron(a.tel, a.clock)
		sched := scheduler.NewScheduler(cron, a.orchestrator, a.store, scheduler.Options{
			Times:         times,
			StatsInterval: a.cfg.StatsInterval(),
		}, a.tel)
		err = sched.Schedule(ctx)
		if err != nil {
			cron.Stop(ctx)
			return err
		}

		if !a.cfg.Notifications.DisableStartupMessage {
			stats, err := a.store.Stats(ctx)
			if err != nil {
				a.tel.ReportWarning("run.startup-stats", err)
			}
			blacklist, watched := a.orchestrator.Plan()
			msg := scheduler.StartupMessage(scheduler.StartupInfo{
				Stats:     stats,
				Tags:      watched,
				Blacklist: blacklist,
				Times:     times,
				Timezone:  a.clock.Location().String(),
			})
			err = a.notifier.Announce(ctx, msg)
			if err != nil {
				a.tel.ReportWarning("run.startup-message", err)
			}
		}

		err = a.coordinator.Start(ctx)
		if err != nil {
			cron.Stop(ctx)
			return err
		}

		if now {
			a.orchestrator.RunCycle(ctx)
		}

		<-ctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		cron.Stop(stopCtx)
		a.coordinator.Stop()

		a.tel.ReportInfo(fmt.Sprintf("stopped after %s", time.Since(started).Round(time.Second)))
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("now", false, "Run a cycle immediately instead of waiting for the first scheduled time.")
	rootCmd.AddCommand(runCmd)
}
