package notify

import (
	"context"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/release"
)

// Log "delivers" releases by logging them, it is meant for dry runs.
type Log struct {
	tel telemetry.API
}

func NewLog(tel telemetry.API) Log {
	assert.NotNil(tel, "tel")
	return Log{tel: telemetry.NewScopedAPI("log_transport", tel)}
}

func (l Log) Deliver(ctx context.Context, metadata release.Metadata) error {
	l.tel.ReportInfo("deliver", "title", metadata.Title, "artist", metadata.Artist, "link", metadata.Link)
	return ctx.Err()
}

func (l Log) Announce(ctx context.Context, text string) error {
	l.tel.ReportInfo("announce", text)
	return ctx.Err()
}
