// Package retry periodically re-attempts the delivery of every stored release
// that has not been sent yet, independently of ingestion cycles.
package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/ingest"
	"tagwatch/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("tagwatch/retry")

const DefaultInterval = 20 * time.Minute

const (
	report_coordinator_pass = "coordinator.pass"
)

var ErrAlreadyStarted = errors.New("retry: coordinator already started")

type State int32

const (
	StateIdle State = iota
	StateRetrying
)

func (s State) String() string {
	if s == StateRetrying {
		return "retrying"
	}
	return "idle"
}

type PassResult struct {
	Attempted int
	Sent      int
	Failed    int
	// Skipped counts releases delivered or claimed by the ingestion cycle
	// after the pass listed them.
	Skipped int
}

// Coordinator runs a retry pass when started and then once every interval until stopped.
type Coordinator struct {
	store     store.Store
	deliverer ingest.Deliverer
	interval  time.Duration
	tel       telemetry.API

	state atomic.Int32
	// pass serializes passes started by the timer and by RunPass
	pass sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCoordinator creates a Coordinator, an interval <= 0 uses DefaultInterval.
func NewCoordinator(s store.Store, deliverer ingest.Deliverer, interval time.Duration, tel telemetry.API) *Coordinator {
	assert.NotNil(s, "store")
	assert.NotNil(tel, "tel")

	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		store:     s,
		deliverer: deliverer,
		interval:  interval,
		tel:       telemetry.NewScopedAPI("retry", tel),
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// RunPass attempts to deliver every unsent release once, oldest first. A failed
// delivery never stops the pass, a cancelled ctx stops it between releases.
func (c *Coordinator) RunPass(ctx context.Context) PassResult {
	c.pass.Lock()
	defer c.pass.Unlock()

	c.state.Store(int32(StateRetrying))
	defer c.state.Store(int32(StateIdle))

	ctx, span := tracer.Start(ctx, "Coordinator.RunPass")
	defer span.End()

	result := PassResult{}
	unsent, err := c.store.ListUnsent(ctx)
	if err != nil {
		c.tel.ReportBroken(report_coordinator_pass, err)
		return result
	}
	if len(unsent) == 0 {
		c.tel.ReportDebug("nothing to retry")
		return result
	}

	for _, r := range unsent {
		if ctx.Err() != nil {
			break
		}
		if r.Blacklisted {
			continue
		}
		err := c.deliverer.Deliver(ctx, r)
		if ingest.IsSkipped(err) {
			result.Skipped++
			continue
		}
		result.Attempted++
		if err != nil {
			result.Failed++
			continue
		}
		result.Sent++
	}

	span.SetAttributes(
		attribute.Int("attempted", result.Attempted),
		attribute.Int("sent", result.Sent),
	)
	c.tel.ReportInfo(
		"retry pass finished",
		"attempted", result.Attempted,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result
}

// Start runs a pass immediately and then one every interval in the background
// until Stop is called or ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)

		c.RunPass(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			c.RunPass(ctx)
		}
	}()

	c.tel.ReportInfo("started", "interval", c.interval.String())
	return nil
}

// Stop cancels the timer and waits for an in-flight pass to wind down, the
// delivery in progress is finished first. Stop is a no-op if not started.
func (c *Coordinator) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.tel.ReportInfo("stopped")
}
