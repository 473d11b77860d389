// Package collyfetcher is the plain HTTP rung of the fetch ladder, built on
// gocolly. Cookies set by a shop are kept per crawl session so detail pages
// see the same cookies as the listing that linked them.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
)

// StrategyName labels responses produced by this fetcher.
const StrategyName = "colly"

const (
	defaultTimeout = 15 * time.Second
	// maxSessionJars bounds the cookie jars kept for concurrent crawls.
	maxSessionJars = 32
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher implements catalog.Fetcher. Non-2xx answers come back as
// responses, not errors, so the caller can inspect block pages.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	jars      *sessionJars
}

// collectorHooks is the callback surface of a colly.Collector.
type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. All fetches share one connection pool.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg: cfg,
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   15 * time.Second,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		jars: newSessionJars(maxSessionJars),
	}
}

// Fetch performs one GET.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	collector := f.collectorFor(request)
	var (
		result  catalog.FetchResponse
		failure error
	)
	attachHooks(collector, request, time.Now(), &result, &failure)

	visited := make(chan error, 1)
	go func() { visited <- collector.Visit(request.URL) }()

	select {
	case <-ctx.Done():
		return catalog.FetchResponse{}, fmt.Errorf("get %s: %w", request.URL, ctx.Err())
	case err := <-visited:
		if err == nil {
			err = failure
		}
		if err != nil {
			return catalog.FetchResponse{}, fmt.Errorf("get %s: %w", request.URL, err)
		}
		return result, nil
	}
}

// collectorFor builds a fresh collector so cookie jars never leak between
// sessions through a shared colly backend.
func (f *Fetcher) collectorFor(request catalog.FetchRequest) *colly.Collector {
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = f.cfg.MaxBodyBytes
	}
	c.UserAgent = f.cfg.UserAgent
	if request.UserAgent != "" {
		c.UserAgent = request.UserAgent
	}
	timeout := f.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(f.transport)
	if request.SessionID != "" {
		c.SetCookieJar(f.jars.get(request.SessionID))
	}
	return c
}

func attachHooks(
	hooks collectorHooks,
	request catalog.FetchRequest,
	start time.Time,
	result *catalog.FetchResponse,
	failure *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		*result = catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Strategy:   StrategyName,
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*failure = err
	})
}

// sessionJars keeps one cookie jar per session, dropping the oldest once
// limit is reached.
type sessionJars struct {
	mu    sync.Mutex
	limit int
	jars  map[string]http.CookieJar
	order []string
}

func newSessionJars(limit int) *sessionJars {
	return &sessionJars{limit: limit, jars: map[string]http.CookieJar{}}
}

func (s *sessionJars) get(sessionID string) http.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, ok := s.jars[sessionID]; ok {
		return jar
	}
	// cookiejar.New never returns an error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if len(s.order) >= s.limit {
		delete(s.jars, s.order[0])
		s.order = s.order[1:]
	}
	s.jars[sessionID] = jar
	s.order = append(s.order, sessionID)
	return jar
}
