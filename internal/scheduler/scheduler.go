// Package scheduler triggers ingestion cycles at fixed times of day and
// periodically reports the state of the store.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/chrono"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/ingest"
	"tagwatch/internal/store"
)

const (
	report_scheduler_stats = "scheduler.stats"

	report_count_total       = "store.total"
	report_count_sent        = "store.sent"
	report_count_pending     = "store.pending"
	report_count_blacklisted = "store.blacklisted"
)

// Cycle is one full ingestion run.
type Cycle interface {
	RunCycle(ctx context.Context) ingest.CycleResult
}

type Options struct {
	Times []chrono.DailyTime
	// StatsInterval of 0 disables the periodic stats readout.
	StatsInterval time.Duration
}

type Scheduler struct {
	cron  chrono.CronAPI
	cycle Cycle
	store store.Store
	opts  Options
	tel   telemetry.API
}

func NewScheduler(cron chrono.CronAPI, cycle Cycle, s store.Store, opts Options, tel telemetry.API) Scheduler {
	assert.NotNil(cron, "cron")
	assert.NotNil(cycle, "cycle")
	assert.NotNil(s, "store")
	assert.NotNil(tel, "tel")

	return Scheduler{
		cron:  cron,
		cycle: cycle,
		store: s,
		opts:  opts,
		tel:   telemetry.NewScopedAPI("scheduler", tel),
	}
}

// Schedule registers a cycle at every configured time of day and the stats readout,
// jobs run with ctx until the cron is stopped.
func (s Scheduler) Schedule(ctx context.Context) error {
	for _, t := range s.opts.Times {
		at := t
		err := s.cron.Cron(at.CronSpec(), func() {
			s.tel.ReportInfo("scheduled cycle triggered", "at", at.String())
			s.cycle.RunCycle(ctx)
		})
		if err != nil {
			return fmt.Errorf("schedule cycle at %s: %w", at.String(), err)
		}
	}

	if s.opts.StatsInterval > 0 {
		spec := fmt.Sprintf("@every %s", s.opts.StatsInterval.String())
		err := s.cron.Cron(spec, func() {
			s.ReportStats(ctx)
		})
		if err != nil {
			return fmt.Errorf("schedule stats readout: %w", err)
		}
	}
	return nil
}

// ReportStats logs the store stats and reports them as counts.
func (s Scheduler) ReportStats(ctx context.Context) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.tel.ReportBroken(report_scheduler_stats, err)
		return
	}
	s.tel.ReportInfo(
		"stats",
		"total", stats.Total,
		"sent", stats.Sent,
		"pending", stats.Pending,
		"blacklisted", stats.Blacklisted,
	)
	s.tel.ReportCount(report_count_total, stats.Total)
	s.tel.ReportCount(report_count_sent, stats.Sent)
	s.tel.ReportCount(report_count_pending, stats.Pending)
	s.tel.ReportCount(report_count_blacklisted, stats.Blacklisted)
}

type StartupInfo struct {
	Stats     store.Stats
	Tags      []string
	Blacklist []string
	Times     []chrono.DailyTime
	Timezone  string
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

// StartupMessage is the announcement posted when the daemon starts.
func StartupMessage(info StartupInfo) string {
	times := make([]string, len(info.Times))
	for i, t := range info.Times {
		times[i] = t.String()
	}
	return strings.Join([]string{
		"tagwatch started",
		"",
		fmt.Sprintf("Releases: %d total, %d sent, %d pending", info.Stats.Total, info.Stats.Sent, info.Stats.Pending),
		fmt.Sprintf("Tags: %s", joinOrNone(info.Tags)),
		fmt.Sprintf("Blacklist: %s", joinOrNone(info.Blacklist)),
		fmt.Sprintf("Schedule: %s (%s)", joinOrNone(times), info.Timezone),
	}, "\n")
}
