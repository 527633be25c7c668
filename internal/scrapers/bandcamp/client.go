// Package bandcamp lists the newest releases under a bandcamp tag.
package bandcamp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/release"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("tagwatch/scrapers/bandcamp")

const (
	report_client_fetch_candidates = "client.fetch-candidates"
	report_client_no_candidates    = "client.no-candidates"
)

// ExtractionError is a failure to list the candidates of a single tag, it never
// affects any other tag.
type ExtractionError struct {
	Tag string
	Err error
}

func (e ExtractionError) Error() string {
	return fmt.Sprintf("bandcamp: extract tag '%s': %s", e.Tag, e.Err.Error())
}

func (e ExtractionError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves the html of a page.
//
// note: fault injection point
type Fetcher interface {
	Fetch(ctx context.Context, pageUrl string) ([]byte, error)
}

type ClientOptions struct {
	BaseUrl string
	// RequestDelay is the minimum time between two page fetches.
	RequestDelay time.Duration
}

type Client struct {
	baseUrl *url.URL
	fetcher Fetcher
	limiter *rate.Limiter
	tel     telemetry.API
}

func NewClient(opts ClientOptions, fetcher Fetcher, tel telemetry.API) (Client, error) {
	assert.NotNil(fetcher, "fetcher")
	assert.NotNil(tel, "tel")

	baseUrl, err := url.Parse(strings.TrimRight(opts.BaseUrl, "/"))
	if err != nil {
		return Client{}, err
	}

	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}

	return Client{
		baseUrl: baseUrl,
		fetcher: fetcher,
		limiter: rate.NewLimiter(limit, 1),
		tel:     telemetry.NewScopedAPI("bandcamp", tel),
	}, nil
}

// DiscoverUrl returns the url of the page that lists the newest releases under tag.
func (c Client) DiscoverUrl(tag string) string {
	slug := strings.ReplaceAll(strings.TrimSpace(tag), " ", "-")
	link := c.baseUrl.JoinPath("discover", slug)
	link.RawQuery = url.Values{"s": {"new"}}.Encode()
	return link.String()
}

// FetchCandidates lists the releases currently shown under tag. Any failure is
// returned as an ExtractionError.
func (c Client) FetchCandidates(ctx context.Context, tag string) ([]release.RawRecord, error) {
	ctx, span := tracer.Start(ctx, "FetchCandidates")
	defer span.End()

	fail := func(err error) ([]release.RawRecord, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.tel.ReportWarning(report_client_fetch_candidates, tag, err)
		return nil, ExtractionError{Tag: tag, Err: err}
	}

	err := c.limiter.Wait(ctx)
	if err != nil {
		return fail(err)
	}

	pageUrl := c.DiscoverUrl(tag)
	body, err := c.fetcher.Fetch(ctx, pageUrl)
	if err != nil {
		return fail(fmt.Errorf("fetch %s: %w", pageUrl, err))
	}

	base, err := url.Parse(pageUrl)
	if err != nil {
		return fail(err)
	}
	records, err := ParseDiscover(ctx, base, body)
	if err != nil {
		return fail(fmt.Errorf("parse %s: %w", pageUrl, err))
	}
	if len(records) == 0 {
		c.tel.ReportWarning(report_client_no_candidates, tag)
	}

	c.tel.ReportDebug("found candidates", tag, len(records))
	return records, nil
}
