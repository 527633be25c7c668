// Package store is the durable mapping of discovered releases to their delivery state.
//
// Both the ingestion cycle and the retry coordinator share one Store, implementations
// serialize conflicting operations so that the two can run concurrently.
package store

import (
	"context"
	"errors"
	"time"

	"tagwatch/internal/release"
)

var (
	// ErrDuplicateIdentity is returned by Insert when the identity is already recorded.
	ErrDuplicateIdentity = errors.New("store: duplicate identity")
	// ErrNotFound is returned by MarkSent and Get when the identity is not recorded.
	ErrNotFound = errors.New("store: identity not found")
)

// Stats is a point in time readout of the store, Pending is Total - Sent.
type Stats struct {
	Total       int64
	Sent        int64
	Pending     int64
	Blacklisted int64
}

// Store is the persistence contract the ingestion cycle and retry coordinator depend on.
//
// note: fault injection point
type Store interface {
	// Exists is true if any release with that identity is recorded, regardless of its state.
	Exists(ctx context.Context, identity string) (bool, error)
	// Get returns the current state of a release or ErrNotFound.
	Get(ctx context.Context, identity string) (release.Release, error)
	// Insert records a new release, it never overwrites an existing row and returns
	// ErrDuplicateIdentity instead.
	Insert(ctx context.Context, r release.Release) error
	// MarkSent sets the delivery time of a release, returns ErrNotFound if the identity is
	// not recorded and is a no-op if the release was already sent.
	MarkSent(ctx context.Context, identity string, at time.Time) error
	// ListUnsent returns every release that is neither sent nor blacklisted, oldest first.
	ListUnsent(ctx context.Context) ([]release.Release, error)
	// PurgeOlderThan deletes releases discovered more than age ago regardless of their state
	// and returns how many were deleted.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	// Recent returns the most recently discovered releases, newest first.
	Recent(ctx context.Context, limit int) ([]release.Release, error)
}
