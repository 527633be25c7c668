package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/notify"
	"tagwatch/internal/release"
	"tagwatch/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

const (
	report_orchestrator_extract  = "orchestrator.extract"
	report_orchestrator_announce = "orchestrator.announce"
	report_orchestrator_purge    = "orchestrator.purge"
	report_orchestrator_overlap  = "orchestrator.overlap"
)

// Extractor lists the candidates currently shown under a tag.
//
// note: fault injection point
type Extractor interface {
	FetchCandidates(ctx context.Context, tag string) ([]release.RawRecord, error)
}

type OrchestratorOptions struct {
	Tags          []string
	BlacklistTags []string
	// Retention of 0 disables purging at the end of a cycle.
	Retention time.Duration
	// Announce a summary through Announcer when a cycle delivered something.
	Summary bool
}

// CycleResult counts what happened to every candidate seen during a cycle.
type CycleResult struct {
	Known       int
	Blacklisted int
	Sent        int
	Failed      int
	Skipped     int
	// TagErrors lists the tags whose candidates could not be fetched.
	TagErrors []string
	Purged    int64
	Duration  time.Duration
	// Overlapped is true if the cycle did not run because another one was in progress.
	Overlapped bool
}

func (r *CycleResult) add(result Result) {
	switch result {
	case ResultKnown:
		r.Known++
	case ResultBlacklisted:
		r.Blacklisted++
	case ResultSent:
		r.Sent++
	case ResultFailed:
		r.Failed++
	case ResultSkipped:
		r.Skipped++
	}
}

// Orchestrator runs ingestion cycles. Blacklisted tags are always processed to
// completion before any watched tag so that a release listed under both is
// recorded as blacklisted before it can be delivered, tags are never processed
// concurrently.
type Orchestrator struct {
	extractor Extractor
	pipeline  Pipeline
	store     store.Store
	announcer notify.Announcer
	opts      OrchestratorOptions
	tel       telemetry.API

	running *sync.Mutex
}

// NewOrchestrator creates an Orchestrator, announcer may be nil.
func NewOrchestrator(
	extractor Extractor,
	pipeline Pipeline,
	s store.Store,
	announcer notify.Announcer,
	opts OrchestratorOptions,
	tel telemetry.API,
) Orchestrator {
	assert.NotNil(extractor, "extractor")
	assert.NotNil(s, "store")
	assert.NotNil(tel, "tel")

	return Orchestrator{
		extractor: extractor,
		pipeline:  pipeline,
		store:     s,
		announcer: announcer,
		opts:      opts,
		tel:       tel,
		running:   &sync.Mutex{},
	}
}

// Plan returns the tags of one cycle in processing order, blacklisted first.
// A watched tag that is also blacklisted is only processed as blacklisted.
func (o Orchestrator) Plan() (blacklist []string, watched []string) {
	seen := map[string]struct{}{}
	for _, tag := range o.opts.BlacklistTags {
		tag = normalizeTag(tag)
		if _, ok := seen[tag]; ok || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		blacklist = append(blacklist, tag)
	}
	for _, tag := range o.opts.Tags {
		tag = normalizeTag(tag)
		if _, ok := seen[tag]; ok || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		watched = append(watched, tag)
	}
	return blacklist, watched
}

func (o Orchestrator) runTag(ctx context.Context, tag string, result *CycleResult) {
	ctx, span := tracer.Start(ctx, "Orchestrator.runTag")
	defer span.End()
	span.SetAttributes(attribute.String("tag", tag))

	candidates, err := o.extractor.FetchCandidates(ctx, tag)
	if err != nil {
		o.tel.ReportWarning(report_orchestrator_extract, tag, err)
		result.TagErrors = append(result.TagErrors, tag)
		return
	}

	var tagResult CycleResult
	for _, rec := range candidates {
		if ctx.Err() != nil {
			break
		}
		tagResult.add(o.pipeline.Process(ctx, tag, rec))
	}

	o.tel.ReportInfo(
		"processed tag",
		"tag", tag,
		"found", len(candidates),
		"known", tagResult.Known,
		"blacklisted", tagResult.Blacklisted,
		"sent", tagResult.Sent,
		"failed", tagResult.Failed,
	)

	result.Known += tagResult.Known
	result.Blacklisted += tagResult.Blacklisted
	result.Sent += tagResult.Sent
	result.Failed += tagResult.Failed
	result.Skipped += tagResult.Skipped
}

// RunCycle processes every tag once, no error of a single tag or release
// stops the cycle. It returns early only if ctx is cancelled.
func (o Orchestrator) RunCycle(ctx context.Context) CycleResult {
	if !o.running.TryLock() {
		o.tel.ReportWarning(report_orchestrator_overlap, "a cycle is already running")
		return CycleResult{Overlapped: true}
	}
	defer o.running.Unlock()

	ctx, span := tracer.Start(ctx, "Orchestrator.RunCycle")
	defer span.End()

	start := time.Now()
	result := CycleResult{}
	blacklist, watched := o.Plan()

	for _, tag := range blacklist {
		if ctx.Err() != nil {
			break
		}
		o.runTag(ctx, tag, &result)
	}
	for _, tag := range watched {
		if ctx.Err() != nil {
			break
		}
		o.runTag(ctx, tag, &result)
	}

	if o.opts.Summary && o.announcer != nil && result.Sent > 0 {
		err := o.announcer.Announce(
			context.WithoutCancel(ctx),
			fmt.Sprintf("Found and sent %d new release(s)", result.Sent),
		)
		if err != nil {
			o.tel.ReportWarning(report_orchestrator_announce, err)
		}
	}

	if o.opts.Retention > 0 && ctx.Err() == nil {
		purged, err := o.store.PurgeOlderThan(ctx, o.opts.Retention)
		if err != nil {
			o.tel.ReportBroken(report_orchestrator_purge, err)
		} else {
			result.Purged = purged
			if purged > 0 {
				o.tel.ReportInfo("purged old releases", "count", purged)
			}
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("sent", result.Sent),
		attribute.Int("failed", result.Failed),
		attribute.Int("tag_errors", len(result.TagErrors)),
	)
	o.tel.ReportInfo(
		"cycle finished",
		"sent", result.Sent,
		"failed", result.Failed,
		"known", result.Known,
		"blacklisted", result.Blacklisted,
		"skipped", result.Skipped,
		"tag_errors", result.TagErrors,
		"duration", result.Duration.String(),
	)
	return result
}

