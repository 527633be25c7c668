package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tagwatch/internal/components/chrono"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/notify"
	"tagwatch/internal/release"
	"tagwatch/internal/store"
	"tagwatch/lib/testutil"

	"github.com/stretchr/testify/require"
)

type harness struct {
	clock     *chrono.ManualTime
	store     store.Store
	transport *testutil.Transport
	tel       *telemetry.Recorder
	pipeline  Pipeline
}

func newHarness(t *testing.T, s store.Store, clock *chrono.ManualTime, blacklist ...string) harness {
	transport := &testutil.Transport{}
	tel := telemetry.NewRecorder()
	engine := NewEngine(s, clock, blacklist)
	deliverer := NewDeliverer(s, transport, clock, tel)
	return harness{
		clock:     clock,
		store:     s,
		transport: transport,
		tel:       tel,
		pipeline:  NewPipeline(engine, s, deliverer, tel),
	}
}

func newMemoryHarness(t *testing.T, blacklist ...string) harness {
	clock := chrono.NewManualTime(testutil.Epoch)
	return newHarness(t, store.NewMemoryStore(clock), clock, blacklist...)
}

func get(t *testing.T, s store.Store, identity string) release.Release {
	recent, err := s.Recent(context.Background(), -1)
	require.NoError(t, err)
	for _, r := range recent {
		if r.Identity == identity {
			return r
		}
	}
	t.Fatalf("release '%s' is not stored", identity)
	return release.Release{}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t, "Electronic")
	engine := NewEngine(h.store, h.clock, []string{"Electronic"})

	require.True(t, engine.IsBlacklisted(" electronic"))
	require.False(t, engine.IsBlacklisted("punk"))

	{
		c, err := engine.Classify(ctx, "punk", testutil.Record("x"))
		require.NoError(t, err)
		require.Equal(t, OutcomeNew, c.Outcome)
		require.Equal(t, "x", c.Release.Identity)
		require.Equal(t, "punk", c.Release.Tag)
		require.False(t, c.Release.Blacklisted)
		require.Nil(t, c.Release.SentAt)
		require.True(t, c.Release.DiscoveredAt.Equal(testutil.Epoch))
	}

	{
		c, err := engine.Classify(ctx, "electronic", testutil.Record("x"))
		require.NoError(t, err)
		require.Equal(t, OutcomeBlacklisted, c.Outcome)
		require.True(t, c.Release.Blacklisted)
	}

	{
		require.NoError(t, h.store.Insert(ctx, release.New(testutil.Record("x"), "punk", false, testutil.Epoch)))
		// known under any tag and any state
		for _, tag := range []string{"punk", "electronic", "ska"} {
			c, err := engine.Classify(ctx, tag, testutil.Record("x"))
			require.NoError(t, err)
			require.Equal(t, OutcomeKnown, c.Outcome, tag)
		}
	}

	{
		_, err := engine.Classify(ctx, "punk", release.RawRecord{Title: "no identity"})
		require.ErrorIs(t, err, ErrNoIdentity)
	}
}

func TestPipelineIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)

	require.Equal(t, ResultSent, h.pipeline.Process(ctx, "punk", testutil.Record("x")))
	require.Equal(t, ResultKnown, h.pipeline.Process(ctx, "punk", testutil.Record("x")))
	require.Equal(t, ResultKnown, h.pipeline.Process(ctx, "hardcore", testutil.Record("x")))

	stats, err := h.store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Total)
	require.Equal(t, int64(1), stats.Sent)
	require.Equal(t, 1, h.transport.Attempts("Title x"))
	require.Len(t, h.tel.Find(telemetry.LevelInfo, "delivered"), 1)
}

func TestPipelineWritesBeforeSend(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)

	checked := 0
	h.transport.BeforeDeliver = func(ctx context.Context, metadata release.Metadata) {
		identity := strings.TrimPrefix(metadata.Title, "Title ")
		exists, err := h.store.Exists(ctx, identity)
		require.NoError(t, err)
		require.True(t, exists, "delivered %s before it was stored", identity)
		checked++
	}

	for _, slug := range []string{"a", "b", "c"} {
		require.Equal(t, ResultSent, h.pipeline.Process(ctx, "punk", testutil.Record(slug)))
	}
	require.Equal(t, 3, checked)
}

func TestPipelinePersistenceFailure(t *testing.T) {
	ctx := context.Background()
	clock := chrono.NewManualTime(testutil.Epoch)
	failing := testutil.FailingStore{
		Store:     store.NewMemoryStore(clock),
		InsertErr: errors.New("disk full"),
	}
	h := newHarness(t, failing, clock)

	require.Equal(t, ResultSkipped, h.pipeline.Process(ctx, "punk", testutil.Record("x")))
	require.Equal(t, 0, h.transport.Attempts("Title x"))
	require.Len(t, h.tel.Find(telemetry.LevelBroken, report_pipeline_persist), 1)
}

func TestPipelineDeliveryFailure(t *testing.T) {
	ctx := context.Background()

	{
		h := newMemoryHarness(t)
		h.transport.FailAll = true

		require.Equal(t, ResultFailed, h.pipeline.Process(ctx, "punk", testutil.Record("x")))
		r := get(t, h.store, "x")
		require.Nil(t, r.SentAt)
		require.Len(t, h.tel.Find(telemetry.LevelWarning, report_deliverer_deliver), 1)

		unsent, err := h.store.ListUnsent(ctx)
		require.NoError(t, err)
		require.Len(t, unsent, 1)
	}

	{
		h := newMemoryHarness(t)
		h.transport.FailAll = true
		h.transport.Err = notify.PermanentError{Err: errors.New("bad request")}

		require.Equal(t, ResultFailed, h.pipeline.Process(ctx, "punk", testutil.Record("x")))
		require.Len(t, h.tel.Find(telemetry.LevelBroken, report_deliverer_deliver), 1)
		// permanent failures stay queued like every other failure
		unsent, err := h.store.ListUnsent(ctx)
		require.NoError(t, err)
		require.Len(t, unsent, 1)
	}
}

func TestPipelineMarkSentFailure(t *testing.T) {
	ctx := context.Background()
	clock := chrono.NewManualTime(testutil.Epoch)
	failing := testutil.FailingStore{
		Store:       store.NewMemoryStore(clock),
		MarkSentErr: store.ErrNotFound,
	}
	h := newHarness(t, failing, clock)

	require.Equal(t, ResultSent, h.pipeline.Process(ctx, "punk", testutil.Record("x")))
	require.Len(t, h.tel.Find(telemetry.LevelBroken, report_deliverer_mark_sent), 1)
}

func TestPipelineBlacklisted(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t, "electronic")

	require.Equal(t, ResultBlacklisted, h.pipeline.Process(ctx, "electronic", testutil.Record("x")))
	require.Equal(t, 0, h.transport.Attempts("Title x"))

	r := get(t, h.store, "x")
	require.True(t, r.Blacklisted)
	require.Nil(t, r.SentAt)

	deliverer := NewDeliverer(h.store, h.transport, h.clock, h.tel)
	require.ErrorIs(t, deliverer.Deliver(ctx, r), ErrBlacklisted)
	require.Equal(t, 0, h.transport.Attempts("Title x"))
}

func newOrchestrator(h harness, extractor Extractor, opts OrchestratorOptions) Orchestrator {
	return NewOrchestrator(extractor, h.pipeline, h.store, h.transport, opts, h.tel)
}

func TestOrchestratorBlacklistPrecedence(t *testing.T) {
	ctx := context.Background()
	clock := chrono.NewManualTime(testutil.Epoch)
	h := newHarness(t, testutil.SetupSQLiteStore(t, clock), clock, "electronic")

	extractor := &testutil.Extractor{
		Candidates: map[string][]release.RawRecord{
			"electronic": {testutil.Record("x")},
			"punk":       {testutil.Record("x"), testutil.Record("y")},
		},
	}
	orchestrator := newOrchestrator(h, extractor, OrchestratorOptions{
		Tags:          []string{"punk"},
		BlacklistTags: []string{"electronic"},
	})

	result := orchestrator.RunCycle(ctx)
	require.Equal(t, []string{"electronic", "punk"}, extractor.Requested())
	require.Equal(t, 1, result.Blacklisted)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 1, result.Known)

	x := get(t, h.store, "x")
	require.True(t, x.Blacklisted)
	require.Nil(t, x.SentAt)
	y := get(t, h.store, "y")
	require.False(t, y.Blacklisted)
	require.NotNil(t, y.SentAt)

	require.Equal(t, []string{"Title y"}, h.transport.Delivered())
	require.Equal(t, 0, h.transport.Attempts("Title x"))

	// nothing new on the next cycle
	result = orchestrator.RunCycle(ctx)
	require.Equal(t, 0, result.Sent)
	require.Equal(t, 3, result.Known)
}

func TestOrchestratorDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)
	h.transport.FailFirst = map[string]int{"Title y": 1}

	extractor := &testutil.Extractor{
		Candidates: map[string][]release.RawRecord{
			"punk": {testutil.Record("y")},
		},
	}
	orchestrator := newOrchestrator(h, extractor, OrchestratorOptions{Tags: []string{"punk"}})

	result := orchestrator.RunCycle(ctx)
	require.Equal(t, 1, result.Failed)
	require.Nil(t, get(t, h.store, "y").SentAt)

	before, err := h.store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), before.Pending)

	// a later cycle does not deliver it again, that is up to the retry coordinator
	result = orchestrator.RunCycle(ctx)
	require.Equal(t, 1, result.Known)
	require.Equal(t, 1, h.transport.Attempts("Title y"))

	unsent, err := h.store.ListUnsent(ctx)
	require.NoError(t, err)
	deliverer := NewDeliverer(h.store, h.transport, h.clock, h.tel)
	require.NoError(t, deliverer.Deliver(ctx, unsent[0]))

	after, err := h.store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, before.Pending-1, after.Pending)
}

func TestOrchestratorExtractionError(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)

	extractor := &testutil.Extractor{
		Candidates: map[string][]release.RawRecord{
			"hardcore": {testutil.Record("a")},
		},
		Errors: map[string]error{
			"punk": errors.New("timeout"),
		},
	}
	orchestrator := newOrchestrator(h, extractor, OrchestratorOptions{Tags: []string{"punk", "hardcore"}})

	result := orchestrator.RunCycle(ctx)
	require.Equal(t, []string{"punk"}, result.TagErrors)
	require.Equal(t, 1, result.Sent)
	require.Len(t, h.tel.Find(telemetry.LevelWarning, report_orchestrator_extract), 1)
}

func TestOrchestratorPlan(t *testing.T) {
	h := newMemoryHarness(t)
	orchestrator := newOrchestrator(h, &testutil.Extractor{}, OrchestratorOptions{
		Tags:          []string{"punk", "Noise", "hardcore", "punk"},
		BlacklistTags: []string{"noise", "electronic", ""},
	})

	blacklist, watched := orchestrator.Plan()
	require.Equal(t, []string{"noise", "electronic"}, blacklist)
	require.Equal(t, []string{"punk", "hardcore"}, watched)
}

func TestOrchestratorSummaryAndPurge(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)
	day := 24 * time.Hour

	old := release.New(testutil.Record("old"), "punk", false, testutil.Epoch.Add(-100*day))
	require.NoError(t, h.store.Insert(ctx, old))

	extractor := &testutil.Extractor{
		Candidates: map[string][]release.RawRecord{
			"punk": {testutil.Record("a"), testutil.Record("b")},
		},
	}
	orchestrator := newOrchestrator(h, extractor, OrchestratorOptions{
		Tags:      []string{"punk"},
		Retention: 90 * day,
		Summary:   true,
	})

	result := orchestrator.RunCycle(ctx)
	require.Equal(t, 2, result.Sent)
	require.Equal(t, int64(1), result.Purged)
	require.Equal(t, []string{"Found and sent 2 new release(s)"}, h.transport.Announced())

	exists, err := h.store.Exists(ctx, "old")
	require.NoError(t, err)
	require.False(t, exists)

	// nothing was sent so nothing is announced
	orchestrator.RunCycle(ctx)
	require.Len(t, h.transport.Announced(), 1)
}

type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingExtractor) FetchCandidates(ctx context.Context, tag string) ([]release.RawRecord, error) {
	close(b.started)
	<-b.release
	return nil, nil
}

func TestOrchestratorOverlap(t *testing.T) {
	ctx := context.Background()
	h := newMemoryHarness(t)

	extractor := blockingExtractor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	orchestrator := newOrchestrator(h, extractor, OrchestratorOptions{Tags: []string{"punk"}})

	done := make(chan CycleResult)
	go func() {
		done <- orchestrator.RunCycle(ctx)
	}()
	<-extractor.started

	require.True(t, orchestrator.RunCycle(ctx).Overlapped)
	close(extractor.release)
	require.False(t, (<-done).Overlapped)
}

func TestOrchestratorCancelled(t *testing.T) {
	h := newMemoryHarness(t)
	extractor := &testutil.Extractor{}
	orchestrator := newOrchestrator(h, extractor, OrchestratorOptions{Tags: []string{"punk"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orchestrator.RunCycle(ctx)
	require.Empty(t, extractor.Requested())
}
