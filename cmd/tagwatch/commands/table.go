package commands

import (
	"os"
	"strings"
	"time"

	"tagwatch/internal/ingest"
	"tagwatch/internal/release"
	"tagwatch/internal/retry"
	"tagwatch/internal/store"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func renderStats(stats store.Stats) {
	t := newTable()
	t.AppendHeader(table.Row{"Total", "Sent", "Pending", "Blacklisted"})
	t.AppendRow(table.Row{stats.Total, stats.Sent, stats.Pending, stats.Blacklisted})
	t.Render()
}

func renderCycle(result ingest.CycleResult) {
	tagErrors := "none"
	if len(result.TagErrors) > 0 {
		tagErrors = strings.Join(result.TagErrors, ", ")
	}

	t := newTable()
	t.AppendHeader(table.Row{"Sent", "Failed", "Known", "Blacklisted", "Skipped", "Purged", "Tag errors", "Duration"})
	t.AppendRow(table.Row{
		result.Sent,
		result.Failed,
		result.Known,
		result.Blacklisted,
		result.Skipped,
		result.Purged,
		tagErrors,
		result.Duration.Round(time.Millisecond).String(),
	})
	t.Render()
}

func renderPass(result retry.PassResult) {
	t := newTable()
	t.AppendHeader(table.Row{"Attempted", "Sent", "Failed", "Skipped"})
	t.AppendRow(table.Row{result.Attempted, result.Sent, result.Failed, result.Skipped})
	t.Render()
}

func releaseStatus(r release.Release) string {
	switch {
	case r.Blacklisted:
		return "blacklisted"
	case r.SentAt != nil:
		return "sent " + r.SentAt.Format(time.DateTime)
	default:
		return "pending"
	}
}

func renderReleases(releases []release.Release) {
	t := newTable()
	t.AppendHeader(table.Row{"Discovered", "Tag", "Artist", "Title", "Status", "Link"})
	for _, r := range releases {
		t.AppendRow(table.Row{
			r.DiscoveredAt.Format(time.DateTime),
			r.Tag,
			r.Metadata.Artist,
			r.Metadata.Title,
			releaseStatus(r),
			r.Metadata.Link,
		})
	}
	t.Render()
}
