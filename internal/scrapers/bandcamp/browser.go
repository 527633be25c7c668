package bandcamp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	report_browser_view_more = "browser.view-more"
	report_browser_close     = "browser.close"
)

type BrowserFetcherOptions struct {
	// ControlUrl is the devtools websocket url of a running chrome, when empty
	// a headless chrome is launched on first use.
	ControlUrl     string
	ViewMoreClicks int
	Timeout        time.Duration
}

// BrowserFetcher renders pages in chrome so that results loaded by "view more"
// are part of the returned html.
type BrowserFetcher struct {
	opts BrowserFetcherOptions
	tel  telemetry.API

	mutex    sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func NewBrowserFetcher(opts BrowserFetcherOptions, tel telemetry.API) *BrowserFetcher {
	assert.NotNil(tel, "tel")
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &BrowserFetcher{
		opts: opts,
		tel:  telemetry.NewScopedAPI("bandcamp_browser", tel),
	}
}

func (f *BrowserFetcher) connect() (*rod.Browser, error) {
	if f.browser != nil {
		return f.browser, nil
	}

	controlUrl := f.opts.ControlUrl
	if controlUrl == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlUrl = u
		f.launcher = l
	}

	b := rod.New().ControlURL(controlUrl)
	err := b.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = b
	return b, nil
}

// clickViewMore clicks the "view more" button until it disappears or the
// configured number of clicks is reached.
func (f *BrowserFetcher) clickViewMore(page *rod.Page) int {
	clicks := 0
	for clicks < f.opts.ViewMoreClicks {
		button, err := page.Timeout(3*time.Second).ElementR("button", "(?i)view more")
		if err != nil {
			break
		}
		err = button.ScrollIntoView()
		if err == nil {
			err = button.Click(proto.InputMouseButtonLeft, 1)
		}
		if err != nil {
			f.tel.ReportWarning(report_browser_view_more, clicks, err)
			break
		}
		clicks++
		err = page.WaitStable(time.Second)
		if err != nil {
			f.tel.ReportWarning(report_browser_view_more, clicks, err)
			break
		}
	}
	return clicks
}

func (f *BrowserFetcher) Fetch(ctx context.Context, pageUrl string) ([]byte, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	b, err := f.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()
	page = page.Context(navCtx)

	err = page.Navigate(pageUrl)
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	err = page.WaitLoad()
	if err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	clicks := f.clickViewMore(page)
	f.tel.ReportDebug("clicked view more", pageUrl, clicks)

	res, err := page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("read dom: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close shuts down the browser, and chrome itself if it was launched by the fetcher.
func (f *BrowserFetcher) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.browser != nil {
		err := f.browser.Close()
		if err != nil {
			f.tel.ReportWarning(report_browser_close, err)
		}
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
}
