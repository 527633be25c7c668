package bandcamp

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

type HttpFetcherOptions struct {
	UserAgent string
	Timeout   time.Duration
	// DumpDir, when set, receives a text dump of every exchange.
	DumpDir string
}

// HttpFetcher fetches pages with plain http requests.
type HttpFetcher struct {
	http *resty.Client
}

func NewHttpFetcher(opts HttpFetcherOptions, tel telemetry.API) (HttpFetcher, error) {
	assert.NotNil(tel, "tel")

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return HttpFetcher{}, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	client.SetHeader("accept", "text/html,application/xhtml+xml")
	client.SetHeader("accept-language", "en-US,en;q=0.9")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	scoped := telemetry.NewScopedAPI("bandcamp_http", tel)
	telemetry.InstrumentResty(client, scoped)

	if opts.DumpDir != "" {
		output, err := restyutil.NewDirOutput(opts.DumpDir)
		if err != nil {
			return HttpFetcher{}, fmt.Errorf("create dump dir: %w", err)
		}
		restyutil.Dump(client, output, func(err error) {
			scoped.ReportWarning("dump", err)
		})
	}

	return HttpFetcher{http: client}, nil
}

func (f HttpFetcher) Fetch(ctx context.Context, pageUrl string) ([]byte, error) {
	res, err := f.http.R().
		SetContext(ctx).
		Get(pageUrl)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("unexpected status: %s", res.Status())
	}
	return res.Body(), nil
}
