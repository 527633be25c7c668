package ingest

import (
	"context"
	"errors"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/release"
	"tagwatch/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

const (
	report_pipeline_classify = "pipeline.classify"
	report_pipeline_persist  = "pipeline.persist"
)

type Result int

const (
	ResultKnown Result = iota
	ResultBlacklisted
	ResultSent
	// ResultFailed means the release is stored but the transport failed, it is
	// left for the retry coordinator.
	ResultFailed
	// ResultSkipped means the candidate could not be classified or stored, or
	// the retry coordinator got to it first. Nothing was sent by this call.
	ResultSkipped
)

// Pipeline handles a single candidate end to end, a release is always stored
// before it is handed to the transport.
type Pipeline struct {
	engine    Engine
	store     store.Store
	deliverer Deliverer
	tel       telemetry.API
}

func NewPipeline(engine Engine, s store.Store, deliverer Deliverer, tel telemetry.API) Pipeline {
	assert.NotNil(s, "store")
	assert.NotNil(tel, "tel")

	return Pipeline{
		engine:    engine,
		store:     s,
		deliverer: deliverer,
		tel:       tel,
	}
}

func (p Pipeline) Process(ctx context.Context, tag string, rec release.RawRecord) Result {
	ctx, span := tracer.Start(ctx, "Pipeline.Process")
	defer span.End()
	span.SetAttributes(attribute.String("tag", tag))

	classification, err := p.engine.Classify(ctx, tag, rec)
	if errors.Is(err, ErrNoIdentity) {
		p.tel.ReportWarning(report_pipeline_classify, tag, rec.Title, err)
		return ResultSkipped
	}
	if err != nil {
		p.tel.ReportBroken(report_pipeline_classify, tag, rec.Link, err)
		return ResultSkipped
	}
	if classification.Outcome == OutcomeKnown {
		return ResultKnown
	}

	r := classification.Release
	span.SetAttributes(attribute.String("identity", r.Identity))

	err = p.store.Insert(ctx, r)
	if errors.Is(err, store.ErrDuplicateIdentity) {
		return ResultKnown
	}
	if err != nil {
		// never send without a durable record
		p.tel.ReportBroken(report_pipeline_persist, r.Identity, err)
		return ResultSkipped
	}
	discoveredCounter.Add(ctx, 1, metricTag(tag))

	if r.Blacklisted {
		p.tel.ReportDebug("recorded blacklisted release", r.Identity, tag)
		return ResultBlacklisted
	}

	err = p.deliverer.Deliver(ctx, r)
	switch {
	case IsSkipped(err):
		return ResultSkipped
	case err != nil:
		return ResultFailed
	}
	return ResultSent
}

// IsSkipped is true for Deliver errors that mean no delivery was attempted.
func IsSkipped(err error) bool {
	return errors.Is(err, ErrInFlight) ||
		errors.Is(err, ErrAlreadySent) ||
		errors.Is(err, store.ErrNotFound)
}
