// Package release defines the unit of work that flows from the extractor, through
// dedup and persistence, to a notification transport.
package release

import (
	"net/url"
	"strings"
	"time"
)

// RawRecord is a candidate as produced by an extractor, before it has been deduplicated.
type RawRecord struct {
	Title   string
	Artist  string
	Link    string
	Artwork string
	Slug    string
}

// Metadata is the opaque payload forwarded to a transport.
type Metadata struct {
	Title   string
	Artist  string
	Artwork string
	Link    string
	Tags    []string
}

// Release is one discovered item and its delivery state.
type Release struct {
	Identity     string
	Tag          string
	Metadata     Metadata
	DiscoveredAt time.Time
	// SentAt is nil while the release is known but not yet delivered.
	SentAt      *time.Time
	Blacklisted bool
}

// Sent is true once the release has been accepted by a transport.
func (r Release) Sent() bool {
	return r.SentAt != nil
}

// Identity returns the dedup key of a raw record: its normalized link, or the slug
// if the record has no link.
func Identity(rec RawRecord) string {
	if link := NormalizeLink(rec.Link); link != "" {
		return link
	}
	return strings.TrimSpace(rec.Slug)
}

// NormalizeLink lower-cases the scheme and host and drops the query, fragment
// and trailing slashes so that two links to the same page compare equal.
func NormalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return strings.TrimRight(link, "/")
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawPath = ""
	return parsed.String()
}

// New builds the release for a record first seen under tag.
func New(rec RawRecord, tag string, blacklisted bool, discoveredAt time.Time) Release {
	return Release{
		Identity: Identity(rec),
		Tag:      tag,
		Metadata: Metadata{
			Title:   rec.Title,
			Artist:  rec.Artist,
			Artwork: rec.Artwork,
			Link:    NormalizeLink(rec.Link),
			Tags:    []string{tag},
		},
		DiscoveredAt: discoveredAt,
		Blacklisted:  blacklisted,
	}
}
