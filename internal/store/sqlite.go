package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/chrono"
	"tagwatch/internal/db"
	"tagwatch/internal/release"
)

// SQLiteStore implements Store on top of the releases table.
type SQLiteStore struct {
	// sqlite allows a single writer, the mutex keeps the ingestion cycle and the
	// retry coordinator from interleaving multi statement operations.
	mutex  *sync.Mutex
	qry    *db.Queries
	makeTx db.MakeTx
	time   chrono.TimeAPI
}

func NewSQLiteStore(database *sql.DB, clock chrono.TimeAPI) SQLiteStore {
	assert.NotNil(database, "database")
	assert.NotNil(clock, "clock")

	return SQLiteStore{
		mutex:  &sync.Mutex{},
		qry:    db.New(database),
		makeTx: db.NewMakeTx(database),
		time:   clock,
	}
}

func (s SQLiteStore) Exists(ctx context.Context, identity string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	exists, err := s.qry.ReleaseExists(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return exists, nil
}

func (s SQLiteStore) Insert(ctx context.Context, r release.Release) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var sentAt sql.NullInt64
	if r.SentAt != nil {
		sentAt = sql.NullInt64{Int64: r.SentAt.Unix(), Valid: true}
	}

	inserted, err := s.qry.CreateRelease(ctx, db.CreateReleaseParams{
		Identity:     r.Identity,
		Tag:          r.Tag,
		Title:        r.Metadata.Title,
		Artist:       r.Metadata.Artist,
		Artwork:      r.Metadata.Artwork,
		Link:         r.Metadata.Link,
		Tags:         strings.Join(r.Metadata.Tags, ","),
		DiscoveredAt: r.DiscoveredAt.Unix(),
		SentAt:       sentAt,
		Blacklisted:  r.Blacklisted,
	})
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	if inserted == 0 {
		return ErrDuplicateIdentity
	}
	return nil
}

func (s SQLiteStore) MarkSent(ctx context.Context, identity string, at time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	txqry, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		return fmt.Errorf("store: mark sent: %w", err)
	}
	defer discard()

	updated, err := txqry.MarkReleaseSent(ctx, db.MarkReleaseSentParams{
		SentAt:   at.Unix(),
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("store: mark sent: %w", err)
	}
	if updated == 0 {
		exists, err := txqry.ReleaseExists(ctx, identity)
		if err != nil {
			return fmt.Errorf("store: mark sent: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		// already sent, sent_at never moves once set
		return nil
	}

	err = commit()
	if err != nil {
		return fmt.Errorf("store: mark sent: %w", err)
	}
	return nil
}

func (s SQLiteStore) ListUnsent(ctx context.Context) ([]release.Release, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows, err := s.qry.ListUnsentReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list unsent: %w", err)
	}
	return s.toReleases(rows), nil
}

func (s SQLiteStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := s.time.Now().Add(-age)
	deleted, err := s.qry.DeleteReleasesBefore(ctx, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}
	return deleted, nil
}

func (s SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	counts, err := s.qry.CountReleases(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return Stats{
		Total:       counts.Total,
		Sent:        counts.Sent,
		Pending:     counts.Total - counts.Sent,
		Blacklisted: counts.Blacklisted,
	}, nil
}

func (s SQLiteStore) Recent(ctx context.Context, limit int) ([]release.Release, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows, err := s.qry.ListRecentReleases(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return s.toReleases(rows), nil
}

func (s SQLiteStore) Get(ctx context.Context, identity string) (release.Release, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	row, err := s.qry.GetRelease(ctx, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return release.Release{}, ErrNotFound
	}
	if err != nil {
		return release.Release{}, fmt.Errorf("store: get: %w", err)
	}
	return s.toRelease(row), nil
}

func (s SQLiteStore) toReleases(rows []db.Release) []release.Release {
	out := make([]release.Release, len(rows))
	for i, row := range rows {
		out[i] = s.toRelease(row)
	}
	return out
}

func (s SQLiteStore) toRelease(row db.Release) release.Release {
	var tags []string
	for _, tag := range strings.Split(row.Tags, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}

	r := release.Release{
		Identity: row.Identity,
		Tag:      row.Tag,
		Metadata: release.Metadata{
			Title:   row.Title,
			Artist:  row.Artist,
			Artwork: row.Artwork,
			Link:    row.Link,
			Tags:    tags,
		},
		DiscoveredAt: time.Unix(row.DiscoveredAt, 0).In(s.time.Location()),
		Blacklisted:  row.Blacklisted,
	}
	if row.SentAt.Valid {
		sentAt := time.Unix(row.SentAt.Int64, 0).In(s.time.Location())
		r.SentAt = &sentAt
	}
	return r
}
