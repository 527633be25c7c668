package release

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	table := []struct {
		record   RawRecord
		expected string
	}{
		{
			record:   RawRecord{Link: "https://artist.bandcamp.com/album/first?from=discover_page"},
			expected: "https://artist.bandcamp.com/album/first",
		},
		{
			record:   RawRecord{Link: "HTTPS://Artist.Bandcamp.com/album/first/#tracks"},
			expected: "https://artist.bandcamp.com/album/first",
		},
		{
			record:   RawRecord{Link: "  ", Slug: "x"},
			expected: "x",
		},
		{
			record:   RawRecord{Slug: "y"},
			expected: "y",
		},
		{
			record:   RawRecord{Link: "https://other.bandcamp.com/track/song", Slug: "ignored"},
			expected: "https://other.bandcamp.com/track/song",
		},
	}

	for _, row := range table {
		require.Equal(t, row.expected, Identity(row.record))
	}
}

func TestIdentityIsCaseSensitiveOnPath(t *testing.T) {
	a := Identity(RawRecord{Link: "https://a.bandcamp.com/album/Song"})
	b := Identity(RawRecord{Link: "https://a.bandcamp.com/album/song"})
	require.NotEqual(t, a, b)
}

func TestNew(t *testing.T) {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	rel := New(RawRecord{
		Title:   "First",
		Artist:  "Artist",
		Link:    "https://artist.bandcamp.com/album/first?x=1",
		Artwork: "https://f4.bcbits.com/img/a1_2.jpg",
	}, "punk", false, now)

	require.Equal(t, "https://artist.bandcamp.com/album/first", rel.Identity)
	require.Equal(t, "punk", rel.Tag)
	require.Equal(t, []string{"punk"}, rel.Metadata.Tags)
	require.Equal(t, now, rel.DiscoveredAt)
	require.False(t, rel.Sent())
	require.False(t, rel.Blacklisted)
}
