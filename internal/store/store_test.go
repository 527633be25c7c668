package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tagwatch/internal/components/chrono"
	"tagwatch/internal/db"
	"tagwatch/internal/release"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func makeRelease(identity string, discoveredAt time.Time, blacklisted bool) release.Release {
	return release.Release{
		Identity: identity,
		Tag:      "punk",
		Metadata: release.Metadata{
			Title:   "Title " + identity,
			Artist:  "Artist " + identity,
			Artwork: "https://f4.bcbits.com/img/" + identity + ".jpg",
			Link:    identity,
			Tags:    []string{"punk", "post punk"},
		},
		DiscoveredAt: discoveredAt,
		Blacklisted:  blacklisted,
	}
}

func identities(releases []release.Release) []string {
	out := make([]string, len(releases))
	for i, r := range releases {
		out[i] = r.Identity
	}
	return out
}

type storeFactory func(t testing.TB, clock chrono.TimeAPI) Store

var factories = map[string]storeFactory{
	"sqlite": func(t testing.TB, clock chrono.TimeAPI) Store {
		database, err := db.OpenDB(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		return NewSQLiteStore(database, clock)
	},
	"memory": func(t testing.TB, clock chrono.TimeAPI) Store {
		return NewMemoryStore(clock)
	},
}

func forEachStore(t *testing.T, test func(t *testing.T, s Store, clock *chrono.ManualTime)) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			clock := chrono.NewManualTime(epoch)
			test(t, factory(t, clock), clock)
		})
	}
}

func TestInsertAndExists(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()

		exists, err := s.Exists(ctx, "a")
		require.NoError(t, err)
		require.False(t, exists)

		require.NoError(t, s.Insert(ctx, makeRelease("a", epoch, false)))

		exists, err = s.Exists(ctx, "a")
		require.NoError(t, err)
		require.True(t, exists)

		// a second insert never overwrites the first
		second := makeRelease("a", epoch.Add(time.Hour), true)
		second.Metadata.Title = "overwritten"
		err = s.Insert(ctx, second)
		require.ErrorIs(t, err, ErrDuplicateIdentity)

		recent, err := s.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		require.Equal(t, "Title a", recent[0].Metadata.Title)
		require.False(t, recent[0].Blacklisted)
		require.Equal(t, []string{"punk", "post punk"}, recent[0].Metadata.Tags)
		require.True(t, recent[0].DiscoveredAt.Equal(epoch))
		require.Nil(t, recent[0].SentAt)
	})
}

func TestMarkSent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()

		err := s.MarkSent(ctx, "missing", epoch)
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Insert(ctx, makeRelease("a", epoch, false)))

		first := epoch.Add(time.Minute)
		require.NoError(t, s.MarkSent(ctx, "a", first))
		// sent_at only moves from absent to present once
		require.NoError(t, s.MarkSent(ctx, "a", first.Add(time.Hour)))

		recent, err := s.Recent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		require.NotNil(t, recent[0].SentAt)
		require.True(t, recent[0].Sent())
		require.True(t, recent[0].SentAt.Equal(first), "got %v", recent[0].SentAt)

		unsent, err := s.ListUnsent(ctx)
		require.NoError(t, err)
		require.Empty(t, unsent)
	})
}

func TestListUnsent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()

		require.NoError(t, s.Insert(ctx, makeRelease("late", epoch.Add(2*time.Minute), false)))
		require.NoError(t, s.Insert(ctx, makeRelease("early", epoch, false)))
		require.NoError(t, s.Insert(ctx, makeRelease("tie-1", epoch.Add(time.Minute), false)))
		require.NoError(t, s.Insert(ctx, makeRelease("tie-2", epoch.Add(time.Minute), false)))
		require.NoError(t, s.Insert(ctx, makeRelease("blocked", epoch, true)))
		require.NoError(t, s.Insert(ctx, makeRelease("sent", epoch, false)))
		require.NoError(t, s.MarkSent(ctx, "sent", epoch))

		unsent, err := s.ListUnsent(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"early", "tie-1", "tie-2", "late"}, identities(unsent))

		recent, err := s.Recent(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, []string{"late", "tie-2", "tie-1"}, identities(recent))
	})
}

func TestPurgeOlderThan(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()
		day := 24 * time.Hour

		require.NoError(t, s.Insert(ctx, makeRelease("old-sent", epoch.Add(-100*day), false)))
		require.NoError(t, s.MarkSent(ctx, "old-sent", epoch.Add(-100*day)))
		require.NoError(t, s.Insert(ctx, makeRelease("old-unsent", epoch.Add(-91*day), false)))
		require.NoError(t, s.Insert(ctx, makeRelease("old-blacklisted", epoch.Add(-95*day), true)))
		require.NoError(t, s.Insert(ctx, makeRelease("fresh", epoch.Add(-10*day), false)))

		deleted, err := s.PurgeOlderThan(ctx, 90*day)
		require.NoError(t, err)
		require.Equal(t, int64(3), deleted)

		for _, identity := range []string{"old-sent", "old-unsent", "old-blacklisted"} {
			exists, err := s.Exists(ctx, identity)
			require.NoError(t, err)
			require.False(t, exists, identity)
		}

		// a purged identity is new again
		require.NoError(t, s.Insert(ctx, makeRelease("old-sent", epoch, false)))

		clock.Advance(day)
		deleted, err = s.PurgeOlderThan(ctx, 90*day)
		require.NoError(t, err)
		require.Equal(t, int64(0), deleted)
	})
}

func TestStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, Stats{}, stats)

		require.NoError(t, s.Insert(ctx, makeRelease("a", epoch, false)))
		require.NoError(t, s.Insert(ctx, makeRelease("b", epoch, false)))
		require.NoError(t, s.Insert(ctx, makeRelease("c", epoch, true)))
		require.NoError(t, s.MarkSent(ctx, "a", epoch))

		stats, err = s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, Stats{
			Total:       3,
			Sent:        1,
			Pending:     2,
			Blacklisted: 1,
		}, stats)
	})
}

func TestConcurrentAccess(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()

		wg := sync.WaitGroup{}
		errs := make(chan error, 64)
		for worker := 0; worker < 4; worker++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				for i := 0; i < 16; i++ {
					// every worker races on the same identities
					identity := fmt.Sprintf("item-%d", i)
					err := s.Insert(ctx, makeRelease(identity, epoch, false))
					if err != nil && !errors.Is(err, ErrDuplicateIdentity) {
						errs <- err
						continue
					}
					err = s.MarkSent(ctx, identity, epoch.Add(time.Duration(worker)*time.Minute))
					if err != nil {
						errs <- err
					}
				}
			}(worker)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, int64(16), stats.Total)
		require.Equal(t, int64(16), stats.Sent)
	})
}

func TestGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store, clock *chrono.ManualTime) {
		ctx := context.Background()

		_, err := s.Get(ctx, "a")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Insert(ctx, makeRelease("a", epoch, false)))
		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, "Artist a", got.Metadata.Artist)
		require.Nil(t, got.SentAt)

		require.NoError(t, s.MarkSent(ctx, "a", epoch.Add(time.Minute)))
		got, err = s.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.SentAt)
	})
}
