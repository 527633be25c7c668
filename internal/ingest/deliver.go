package ingest

import (
	"context"
	"errors"
	"sync"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/chrono"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/notify"
	"tagwatch/internal/release"
	"tagwatch/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_deliverer_deliver   = "deliverer.deliver"
	report_deliverer_mark_sent = "deliverer.mark-sent"
	report_deliverer_recheck   = "deliverer.recheck"
)

var (
	// ErrBlacklisted is returned when asked to deliver a blacklisted release.
	ErrBlacklisted = errors.New("release is blacklisted")
	// ErrInFlight is returned when another caller is delivering the same release.
	ErrInFlight = errors.New("release is already being delivered")
	// ErrAlreadySent is returned when the release was delivered since the caller read it.
	ErrAlreadySent = errors.New("release was already sent")
)

// claims holds the identities currently handed to the transport.
type claims struct {
	mutex    sync.Mutex
	inflight map[string]struct{}
}

func (c *claims) claim(identity string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, ok := c.inflight[identity]; ok {
		return false
	}
	c.inflight[identity] = struct{}{}
	return true
}

func (c *claims) release(identity string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.inflight, identity)
}

// Deliverer sends a stored release through a transport and records the delivery.
// Copies share their claims, so the ingestion pipeline and the retry coordinator
// never deliver the same release at the same time when built from one Deliverer.
type Deliverer struct {
	store     store.Store
	transport notify.Transport
	time      chrono.TimeAPI
	tel       telemetry.API
	claims    *claims
}

func NewDeliverer(s store.Store, transport notify.Transport, clock chrono.TimeAPI, tel telemetry.API) Deliverer {
	assert.NotNil(s, "store")
	assert.NotNil(transport, "transport")
	assert.NotNil(clock, "clock")
	assert.NotNil(tel, "tel")

	return Deliverer{
		store:     s,
		transport: transport,
		time:      clock,
		tel:       tel,
		claims:    &claims{inflight: make(map[string]struct{})},
	}
}

// Deliver returns an error if the transport failed, in which case the release
// stays unsent. ErrInFlight, ErrAlreadySent and store.ErrNotFound mean nothing was
// attempted. A failure to record a successful delivery is reported but not
// returned since the release did reach its destination.
func (d Deliverer) Deliver(ctx context.Context, r release.Release) error {
	ctx, span := tracer.Start(ctx, "Deliverer.Deliver")
	defer span.End()
	span.SetAttributes(attribute.String("identity", r.Identity))

	if r.Blacklisted {
		return ErrBlacklisted
	}

	if !d.claims.claim(r.Identity) {
		d.tel.ReportDebug("release already in flight", r.Identity)
		return ErrInFlight
	}
	defer d.claims.release(r.Identity)

	// r may have been read before another delivery finished
	current, err := d.store.Get(ctx, r.Identity)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return err
	case err != nil:
		d.tel.ReportWarning(report_deliverer_recheck, r.Identity, err)
	case current.SentAt != nil:
		return ErrAlreadySent
	}

	// in-flight deliveries are never cancelled
	err = d.transport.Deliver(context.WithoutCancel(ctx), r.Metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deliver release")
		failedCounter.Add(ctx, 1)
		if notify.IsPermanent(err) {
			d.tel.ReportBroken(report_deliverer_deliver, r.Identity, err)
		} else {
			d.tel.ReportWarning(report_deliverer_deliver, r.Identity, err)
		}
		return err
	}
	deliveredCounter.Add(ctx, 1)

	err = d.store.MarkSent(context.WithoutCancel(ctx), r.Identity, d.time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark release as sent")
		d.tel.ReportBroken(report_deliverer_mark_sent, r.Identity, err)
		return nil
	}

	d.tel.ReportInfo("delivered", "title", r.Metadata.Title, "artist", r.Metadata.Artist)
	return nil
}
