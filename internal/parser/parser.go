// Package parser turns listing items into raw album records.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
)

// DefaultWorkers is the detail fetch concurrency when none is configured.
const DefaultWorkers = 4

// Skipped reports an item dropped because its page could not be parsed.
type Skipped struct {
	URL string
	Err error
}

// Result holds the records of one ParseItems call. Record order does not
// follow item order.
type Result struct {
	Records []catalog.RawAlbumRecord
	Skipped []Skipped
}

// Parser fetches detail pages over a bounded worker pool.
type Parser struct {
	loader   catalog.PageLoader
	strategy distributor.Strategy
	clock    catalog.Clock
	workers  int
	logger   *zap.Logger
}

// New builds a Parser. workers <= 0 selects DefaultWorkers.
func New(loader catalog.PageLoader, strategy distributor.Strategy, clock catalog.Clock, workers int, logger *zap.Logger) *Parser {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		loader:   loader,
		strategy: strategy,
		clock:    clock,
		workers:  workers,
		logger:   logger.Named("parser").With(zap.String("distributor", strategy.Code().String())),
	}
}

// ParseItems fetches and parses every item. A parse failure skips that item
// only; a fetch failure cancels the remaining work and is returned.
func (p *Parser) ParseItems(ctx context.Context, sessionID string, items []catalog.ListingItem) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)
	code := p.strategy.Code()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			body, err := p.loader.Load(gctx, item.URL)
			if err != nil {
				return fmt.Errorf("load detail %s: %w", item.URL, err)
			}

			rec, err := p.strategy.ParseDetail(body, item)
			if err != nil {
				if !errors.Is(err, &catalog.ParseError{}) {
					err = &catalog.ParseError{Kind: catalog.UnexpectedFormat, URL: item.URL, Err: err}
				}
				p.logger.Warn("album page skipped",
					zap.String("session_id", sessionID),
					zap.String("url", item.URL),
					zap.String("error_kind", catalog.ErrorKind(err)),
					zap.Error(err))
				metrics.ObserveParsedItem(code.String(), "skipped")
				mu.Lock()
				res.Skipped = append(res.Skipped, Skipped{URL: item.URL, Err: err})
				mu.Unlock()
				return nil
			}

			rec.DistributorCode = code
			rec.ParsingSessionID = sessionID
			rec.CreatedDate = p.clock.Now()
			if rec.PurchaseURL == "" {
				rec.PurchaseURL = item.URL
			}
			metrics.ObserveParsedItem(code.String(), "parsed")
			mu.Lock()
			res.Records = append(res.Records, rec)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}
