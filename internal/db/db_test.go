package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenDB(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	path := filepath.Join(t.TempDir(), "nested", "releases.db")
	database, err := OpenDB(ctx, path)
	require.NoError(t, err)
	defer database.Close()

	// applying the schema twice must be harmless
	_, err = database.ExecContext(ctx, Schema)
	require.NoError(t, err)

	_, err = OpenDB(ctx, "")
	require.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	require.True(t, IsRemote("libsql://tagwatch-example.turso.io?authToken=abc"))
	require.True(t, IsRemote("https://tagwatch-example.turso.io"))
	require.False(t, IsRemote("tagwatch.db"))
	require.False(t, IsRemote(":memory:"))
}

func TestQueries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	database, err := OpenDB(ctx, ":memory:")
	require.NoError(t, err)
	defer database.Close()
	qry := New(database)

	{
		n, err := qry.CreateRelease(ctx, CreateReleaseParams{
			Identity:     "a",
			Tag:          "punk",
			Title:        "A",
			Artist:       "Artist",
			DiscoveredAt: 100,
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		n, err = qry.CreateRelease(ctx, CreateReleaseParams{
			Identity:     "a",
			Tag:          "hardcore",
			Title:        "A again",
			Artist:       "Artist",
			DiscoveredAt: 200,
		})
		require.NoError(t, err)
		require.Equal(t, int64(0), n)
	}
	{
		n, err := qry.MarkReleaseSent(ctx, MarkReleaseSentParams{SentAt: 150, Identity: "a"})
		require.NoError(t, err)
		require.Equal(t, int64(1), n)

		n, err = qry.MarkReleaseSent(ctx, MarkReleaseSentParams{SentAt: 300, Identity: "a"})
		require.NoError(t, err)
		require.Equal(t, int64(0), n)

		row, err := qry.GetRelease(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, "punk", row.Tag)
		require.Equal(t, sql.NullInt64{Int64: 150, Valid: true}, row.SentAt)
	}
	{
		counts, err := qry.CountReleases(ctx)
		require.NoError(t, err)
		require.Equal(t, CountReleasesRow{Total: 1, Sent: 1}, counts)
	}
	{
		_, err := qry.GetRelease(ctx, "missing")
		require.ErrorIs(t, err, sql.ErrNoRows)
	}
}
