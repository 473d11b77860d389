// Package paginator walks a distributor's listing pages one batch at a time.
package paginator

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
)

// DefaultMaxPages bounds a walk when no ceiling is configured.
const DefaultMaxPages = 500

// Batch is one fetched listing page.
type Batch struct {
	PageURL string
	Page    int
	Items   []catalog.ListingItem
	NextURL string
}

// Paginator yields listing batches lazily, starting at one URL. It is not
// restartable and not safe for concurrent use.
//
//	for p.Next(ctx) {
//		batch := p.Batch()
//	}
//	if err := p.Err(); err != nil { ... }
type Paginator struct {
	loader   catalog.PageLoader
	strategy distributor.Strategy
	media    catalog.MediaType
	maxPages int
	logger   *zap.Logger

	nextURL string
	visited map[string]struct{}
	page    int
	current Batch
	err     error
	done    bool
}

// Option tunes a Paginator.
type Option func(*Paginator)

// WithMaxPages caps the number of pages fetched.
func WithMaxPages(n int) Option {
	return func(p *Paginator) {
		if n > 0 {
			p.maxPages = n
		}
	}
}

// WithCategoryMedia sets the media inherited by items that carry none.
func WithCategoryMedia(m catalog.MediaType) Option {
	return func(p *Paginator) { p.media = m }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Paginator) {
		if l != nil {
			p.logger = l
		}
	}
}

// New prepares a walk from startURL. Nothing is fetched until Next.
func New(loader catalog.PageLoader, strategy distributor.Strategy, startURL string, opts ...Option) *Paginator {
	p := &Paginator{
		loader:   loader,
		strategy: strategy,
		maxPages: DefaultMaxPages,
		logger:   zap.NewNop(),
		nextURL:  startURL,
		visited:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("paginator").With(zap.String("distributor", strategy.Code().String()))
	return p
}

// Next fetches the following page. It returns false once the chain ends or
// on the first error, which Err then reports.
func (p *Paginator) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if p.nextURL == "" {
		p.done = true
		return false
	}
	if err := ctx.Err(); err != nil {
		return p.fail(err)
	}

	pageURL := p.nextURL
	key := visitKey(pageURL)
	if _, seen := p.visited[key]; seen {
		return p.fail(&catalog.PaginationError{Kind: catalog.CycleDetected, URL: pageURL, Page: p.page + 1})
	}
	if p.page >= p.maxPages {
		return p.fail(&catalog.PaginationError{Kind: catalog.PageLimitExceeded, URL: pageURL, Page: p.page + 1})
	}
	p.visited[key] = struct{}{}
	p.page++

	body, err := p.loader.Load(ctx, pageURL)
	if err != nil {
		return p.fail(fmt.Errorf("load listing page %d: %w", p.page, err))
	}
	listing, err := p.strategy.ParseListing(body, pageURL)
	if err != nil {
		return p.fail(fmt.Errorf("parse listing page %d: %w", p.page, err))
	}
	for i := range listing.Items {
		if listing.Items[i].Media == "" {
			listing.Items[i].Media = p.media
		}
		if listing.Items[i].SourceURL == "" {
			listing.Items[i].SourceURL = pageURL
		}
	}

	p.current = Batch{PageURL: pageURL, Page: p.page, Items: listing.Items, NextURL: listing.NextURL}
	p.nextURL = listing.NextURL
	metrics.ObserveListingPage(p.strategy.Code().String(), len(listing.Items))
	p.logger.Debug("listing page parsed",
		zap.String("url", pageURL),
		zap.Int("page", p.page),
		zap.Int("items", len(listing.Items)),
		zap.Bool("has_next", listing.NextURL != ""))
	return true
}

// Batch returns the page fetched by the last successful Next.
func (p *Paginator) Batch() Batch { return p.current }

// Err reports the error that stopped the walk, if any.
func (p *Paginator) Err() error { return p.err }

// Pages is the number of pages fetched so far.
func (p *Paginator) Pages() int { return p.page }

func (p *Paginator) fail(err error) bool {
	p.err = err
	p.done = true
	p.current = Batch{}
	return false
}

// visitKey folds URL variants that point at the same page.
func visitKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
