// Package headless renders distributor pages in headless Chrome. It is the
// second rung of the fetch ladder, used once a shop starts answering plain
// requests with a challenge page.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// StrategyName labels responses produced by this fetcher.
const StrategyName = "headless"

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
	challengePollInterval    = 250 * time.Millisecond
)

// Config tunes the browser.
type Config struct {
	// MaxParallel caps open tabs. Zero leaves them unbounded.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// ChallengeWait bounds how long an interstitial title may stay up before
	// the DOM is captured anyway.
	ChallengeWait time.Duration
	SettleDelay   time.Duration
	// ConsentSelectors are clicked, when present, before the DOM is read.
	ConsentSelectors []string
}

// DefaultConsentSelectors accept the cookie banners the shops use.
var DefaultConsentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"button.cmplz-accept",
	".cc-allow",
	"#tarteaucitronPersonalize2",
}

var challengeTitles = []string{"just a moment", "attention required", "checking your browser", "ddos-guard"}

// Fetcher implements catalog.Fetcher with one shared Chrome process and a
// tab per fetch.
type Fetcher struct {
	cfg      Config
	tabs     *semaphore.Weighted
	browser  context.Context
	shutdown context.CancelFunc
}

// NewChromedp prepares the browser allocator. Chrome itself starts on the
// first fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.ConsentSelectors == nil {
		cfg.ConsentSelectors = DefaultConsentSelectors
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 900),
	)
	f.browser, f.shutdown = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close stops the browser.
func (f *Fetcher) Close() {
	f.shutdown()
}

// Fetch renders request.URL and returns the resulting DOM.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	if f.tabs != nil {
		if err := f.tabs.Acquire(ctx, 1); err != nil {
			return catalog.FetchResponse{}, fmt.Errorf("wait for browser tab: %w", err)
		}
		defer f.tabs.Release(1)
	}

	tab, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	// The tab is not derived from ctx, so cancel it by hand.
	defer context.AfterFunc(ctx, closeTab)()
	tab, cancel := context.WithTimeout(tab, f.timeoutFor(request))
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tab, doc.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tab,
		f.prepare(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		f.awaitChallenge(),
		f.acceptConsent(),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return catalog.FetchResponse{}, fmt.Errorf("render %s canceled: %w", request.URL, ctx.Err())
		}
		return catalog.FetchResponse{}, fmt.Errorf("render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, location)
	return catalog.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
		Strategy:     StrategyName,
	}, nil
}

// prepare applies the user agent and extra headers to the tab.
func (f *Fetcher) prepare(request catalog.FetchRequest) chromedp.Action {
	agent := request.UserAgent
	if agent == "" {
		agent = f.cfg.UserAgent
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network: %w", err)
		}
		if agent != "" {
			if err := emulation.SetUserAgentOverride(agent).Do(ctx); err != nil {
				return fmt.Errorf("override user agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(request.Headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set headers: %w", err)
			}
		}
		return nil
	})
}

// awaitChallenge polls the title while it names a challenge, up to
// ChallengeWait. A challenge still showing afterwards is left to the block
// detector.
func (f *Fetcher) awaitChallenge() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.ChallengeWait <= 0 {
			return nil
		}
		giveUp := time.Now().Add(f.cfg.ChallengeWait)
		ticker := time.NewTicker(challengePollInterval)
		defer ticker.Stop()
		for {
			var title string
			if err := chromedp.Title(&title).Do(ctx); err != nil {
				return fmt.Errorf("read title: %w", err)
			}
			if !IsChallengeTitle(title) || time.Now().After(giveUp) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

// acceptConsent clicks the first consent button found. Missing banners are
// not an error.
func (f *Fetcher) acceptConsent() chromedp.Action {
	script := consentScript(f.cfg.ConsentSelectors)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if script == "" {
			return nil
		}
		var clicked bool
		if err := chromedp.Evaluate(script, &clicked).Do(ctx); err != nil {
			return fmt.Errorf("accept consent: %w", err)
		}
		return nil
	})
}

// consentScript builds a snippet that clicks the first matching element and
// reports whether it found one.
func consentScript(selectors []string) string {
	if len(selectors) == 0 {
		return ""
	}
	quoted := make([]string, len(selectors))
	for i, s := range selectors {
		quoted[i] = "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
	}
	return "(() => { for (const s of [" + strings.Join(quoted, ",") +
		"]) { const el = document.querySelector(s); if (el) { el.click(); return true; } } return false; })()"
}

// IsChallengeTitle reports whether title belongs to an anti-bot interstitial.
func IsChallengeTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, marker := range challengeTitles {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (f *Fetcher) timeoutFor(request catalog.FetchRequest) time.Duration {
	switch {
	case request.Timeout > 0:
		return request.Timeout
	case f.cfg.NavigationTimeout > 0:
		return f.cfg.NavigationTimeout
	default:
		return defaultNavigationTimeout
	}
}

// documentResponse remembers the last top-level document response of a tab.
// Challenge pages redirect, so the last one is the page actually shown.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := fromNetworkHeaders(resp.Response.Headers)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
}

// result falls back to the browser location, then the requested URL, and
// assumes 200 when no document response was seen.
func (d *documentResponse) result(requested, location string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if url == "" {
		url = location
	}
	if url == "" {
		url = requested
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func fromNetworkHeaders(in network.Headers) http.Header {
	out := http.Header{}
	for key, value := range in {
		switch v := value.(type) {
		case string:
			// Chrome folds repeated headers into one newline-separated value.
			for _, line := range strings.Split(v, "\n") {
				out.Add(key, line)
			}
		case []any:
			for _, item := range v {
				out.Add(key, fmt.Sprint(item))
			}
		default:
			out.Add(key, fmt.Sprint(v))
		}
	}
	return out
}

func toNetworkHeaders(h http.Header) network.Headers {
	out := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
