// Package dispatcher runs crawls for several distributors in parallel, at
// most one per distributor at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/crawl"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
)

// ErrAlreadyRunning rejects a crawl for a distributor that is being crawled.
var ErrAlreadyRunning = errors.New("crawl already running")

// Runner executes one crawl.
type Runner interface {
	Run(ctx context.Context, entry distributor.Entry) (crawl.Result, error)
}

// Outcome is the result of one dispatched crawl.
type Outcome struct {
	Code   catalog.DistributorCode
	Result crawl.Result
	Err    error
}

// Dispatcher fans crawls out over goroutines.
type Dispatcher struct {
	runner    Runner
	catalogue distributor.Catalogue
	logger    *zap.Logger

	mu     sync.Mutex
	base   context.Context
	active map[catalog.DistributorCode]struct{}
	wg     sync.WaitGroup
}

// New creates a Dispatcher over the distributors of catalogue.
func New(runner Runner, catalogue distributor.Catalogue, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:    runner,
		catalogue: catalogue,
		logger:    logger.Named("dispatcher"),
		base:      context.Background(),
		active:    map[catalog.DistributorCode]struct{}{},
	}
}

// Run binds triggered crawls to ctx and blocks until ctx finishes and every
// running crawl has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()
	<-ctx.Done()
	d.wg.Wait()
}

// RunAll crawls codes in parallel, or every enabled distributor when codes is
// empty, and waits for all of them. A failed crawl does not stop the others.
func (d *Dispatcher) RunAll(ctx context.Context, codes []catalog.DistributorCode) ([]Outcome, error) {
	entries, err := d.entries(codes)
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		if err := d.claim(entry.Code); err != nil {
			outcomes[i] = Outcome{Code: entry.Code, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.release(entry.Code)
			res, err := d.runner.Run(ctx, entry)
			outcomes[i] = Outcome{Code: entry.Code, Result: res, Err: err}
		}()
	}
	wg.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Code, o.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}

// Trigger starts a crawl for code in the background. The crawl is bound to
// the context passed to Run.
func (d *Dispatcher) Trigger(code catalog.DistributorCode) error {
	entry, err := d.catalogue.Lookup(code)
	if err != nil {
		return err
	}
	if err := d.claim(code); err != nil {
		return err
	}
	d.mu.Lock()
	ctx := d.base
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(code)
		res, err := d.runner.Run(ctx, entry)
		if err != nil {
			d.logger.Error("triggered crawl failed",
				zap.String("distributor", code.String()),
				zap.String("session_id", res.SessionID),
				zap.Error(err))
			return
		}
		d.logger.Info("triggered crawl finished",
			zap.String("distributor", code.String()),
			zap.String("session_id", res.SessionID),
			zap.Int("records", res.Records))
	}()
	return nil
}

// Active lists the distributors being crawled.
func (d *Dispatcher) Active() []catalog.DistributorCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	codes := make([]catalog.DistributorCode, 0, len(d.active))
	for code := range d.active {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

// Wait blocks until every triggered crawl has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) entries(codes []catalog.DistributorCode) ([]distributor.Entry, error) {
	if len(codes) == 0 {
		return d.catalogue.Enabled(), nil
	}
	entries := make([]distributor.Entry, 0, len(codes))
	for _, code := range codes {
		entry, err := d.catalogue.Lookup(code)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (d *Dispatcher) claim(code catalog.DistributorCode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.active[code]; busy {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, code)
	}
	d.active[code] = struct{}{}
	return nil
}

func (d *Dispatcher) release(code catalog.DistributorCode) {
	d.mu.Lock()
	delete(d.active, code)
	d.mu.Unlock()
}
