// Package testutil contains fakes of the collaborators of the ingestion
// pipeline and helpers to set up a store for tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tagwatch/internal/components/chrono"
	"tagwatch/internal/db"
	"tagwatch/internal/release"
	"tagwatch/internal/store"
)

// Epoch is the time every ManualTime created by this package starts at.
var Epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// SetupSQLiteStore returns a store backed by an in-memory sqlite database.
func SetupSQLiteStore(t testing.TB, clock chrono.TimeAPI) store.SQLiteStore {
	database, err := db.OpenDB(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return store.NewSQLiteStore(database, clock)
}

// Record returns a candidate identified by its slug.
func Record(slug string) release.RawRecord {
	return release.RawRecord{
		Title:  "Title " + slug,
		Artist: "Artist " + slug,
		Slug:   slug,
	}
}

// Extractor returns fixed candidates per tag and remembers the order tags were requested in.
type Extractor struct {
	mutex      sync.Mutex
	Candidates map[string][]release.RawRecord
	Errors     map[string]error
	requested  []string
}

func (e *Extractor) FetchCandidates(ctx context.Context, tag string) ([]release.RawRecord, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.requested = append(e.requested, tag)
	if err := e.Errors[tag]; err != nil {
		return nil, err
	}
	return e.Candidates[tag], nil
}

func (e *Extractor) Requested() []string {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]string(nil), e.requested...)
}

var ErrTransport = errors.New("transport unavailable")

// Transport records every delivery, it fails the first FailFirst calls
// for every title listed in FailFirst.
type Transport struct {
	mutex sync.Mutex
	// FailFirst maps a release title to how many of its deliveries fail before one succeeds.
	FailFirst map[string]int
	// FailAll makes every delivery fail with Err.
	FailAll bool
	// Err is returned for failed deliveries, ErrTransport if nil.
	Err error
	// BeforeDeliver is called before a delivery is accepted or failed.
	BeforeDeliver func(ctx context.Context, metadata release.Metadata)

	attempts  map[string]int
	delivered []release.Metadata
	announced []string
}

func (t *Transport) Deliver(ctx context.Context, metadata release.Metadata) error {
	if t.BeforeDeliver != nil {
		t.BeforeDeliver(ctx, metadata)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.attempts == nil {
		t.attempts = map[string]int{}
	}
	t.attempts[metadata.Title]++

	if t.FailAll || t.attempts[metadata.Title] <= t.FailFirst[metadata.Title] {
		if t.Err != nil {
			return t.Err
		}
		return ErrTransport
	}
	t.delivered = append(t.delivered, metadata)
	return nil
}

func (t *Transport) Announce(ctx context.Context, text string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.announced = append(t.announced, text)
	return nil
}

// SetFailAll changes FailAll while deliveries may be in progress.
func (t *Transport) SetFailAll(fail bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.FailAll = fail
}

// Attempts returns how many deliveries of title were attempted.
func (t *Transport) Attempts(title string) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.attempts[title]
}

// Delivered returns the titles of every successful delivery in order.
func (t *Transport) Delivered() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	titles := make([]string, len(t.delivered))
	for i, m := range t.delivered {
		titles[i] = m.Title
	}
	return titles
}

func (t *Transport) Announced() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.announced...)
}

// FailingStore wraps a store and fails the operations it was told to fail.
type FailingStore struct {
	store.Store
	InsertErr   error
	MarkSentErr error
	ListErr     error
}

func (s FailingStore) Insert(ctx context.Context, r release.Release) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	return s.Store.Insert(ctx, r)
}

func (s FailingStore) MarkSent(ctx context.Context, identity string, at time.Time) error {
	if s.MarkSentErr != nil {
		return s.MarkSentErr
	}
	return s.Store.MarkSent(ctx, identity, at)
}

func (s FailingStore) ListUnsent(ctx context.Context) ([]release.Release, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Store.ListUnsent(ctx)
}
