package bandcamp

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"tagwatch/internal/release"
	"tagwatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const UnknownArtist = "Unknown Artist"

var (
	bySeparator     = regexp.MustCompile(`(?i)\s+by\s+`)
	byPrefix        = regexp.MustCompile(`(?i)^by\s+`)
	artistSubdomain = regexp.MustCompile(`^([^.]+)\.bandcamp\.com$`)
)

func isReleaseLink(link *url.URL) bool {
	return strings.Contains(link.Path, "/album/") || strings.Contains(link.Path, "/track/")
}

// artistFromHost derives an artist name from an artist's bandcamp subdomain,
// "the-rats.bandcamp.com" becomes "The Rats".
func artistFromHost(host string) string {
	groups := artistSubdomain.FindStringSubmatch(strings.ToLower(host))
	if len(groups) < 2 {
		return ""
	}
	caser := cases.Title(language.English)
	return caser.String(strings.ReplaceAll(groups[1], "-", " "))
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	return parsed.String()
}

func findArtwork(base *url.URL, anchor *goquery.Selection) string {
	img := anchor.Find("img").First()
	if img.Length() == 0 {
		img = anchor.Parent().Find("img").First()
	}
	if img.Length() == 0 {
		return ""
	}
	src := img.AttrOr("src", "")
	if strings.TrimSpace(src) == "" {
		src = img.AttrOr("data-src", "")
	}
	return resolve(base, src)
}

// titleAndArtist reads "<title> by <artist>" out of the anchor text, and falls back
// to the anchor's siblings whose class names mention what they hold.
func titleAndArtist(anchor htmlutil.Anchor) (string, string) {
	var title, artist string
	text := anchor.Name

	parts := bySeparator.Split(text, -1)
	if len(parts) >= 2 {
		title = strings.TrimSpace(parts[0])
		artist = strings.TrimSpace(parts[len(parts)-1])
	}

	if title == "" || artist == "" {
		anchor.Node.Parent().Find("div, span").Each(func(_ int, elem *goquery.Selection) {
			class := strings.ToLower(elem.AttrOr("class", ""))
			if class == "" {
				return
			}
			value := htmlutil.SelectionText(elem)
			if title == "" && (strings.Contains(class, "title") || strings.Contains(class, "name")) {
				title = value
			}
			if artist == "" && (strings.Contains(class, "artist") || strings.Contains(class, "by")) {
				artist = strings.TrimSpace(byPrefix.ReplaceAllString(value, ""))
			}
		})
	}

	if title == "" {
		title = text
	}
	return title, artist
}

// ParseDiscover extracts the release candidates listed on a discover page, in page order.
// Links are resolved against base and the same release is only listed once.
func ParseDiscover(ctx context.Context, base *url.URL, body []byte) ([]release.RawRecord, error) {
	ctx, span := tracer.Start(ctx, "ParseDiscover")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var records []release.RawRecord
	for _, anchor := range htmlutil.GetAnchors(ctx, base, doc.Find("a[href]")) {
		link := *anchor.Href
		if !isReleaseLink(&link) {
			continue
		}
		link.RawQuery = ""
		link.ForceQuery = false
		link.Fragment = ""
		href := link.String()
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}

		title, artist := titleAndArtist(anchor)
		if title == "" {
			continue
		}
		if artist == "" {
			artist = artistFromHost(link.Host)
		}
		if artist == "" {
			artist = UnknownArtist
		}

		records = append(records, release.RawRecord{
			Title:   title,
			Artist:  artist,
			Link:    href,
			Artwork: findArtwork(base, anchor.Node),
			Slug:    path.Base(strings.TrimRight(link.Path, "/")),
		})
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}
