// Package crawl runs one parsing session for one distributor: it walks every
// listing category, parses the album pages and hands the records to the
// event publisher.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/antibot"
	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/logging"
	"github.com/JakeFAU/metal-release-crawler/internal/metrics"
	"github.com/JakeFAU/metal-release-crawler/internal/paginator"
	"github.com/JakeFAU/metal-release-crawler/internal/parser"
	"github.com/JakeFAU/metal-release-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
	"github.com/JakeFAU/metal-release-crawler/internal/session"
	"github.com/JakeFAU/metal-release-crawler/internal/telemetry"
	"github.com/JakeFAU/metal-release-crawler/internal/useragent"
)

// DefaultSessionDeadline bounds a crawl when none is configured.
const DefaultSessionDeadline = 2 * time.Hour

// Sessions is the session lifecycle the runner drives.
type Sessions interface {
	Create(ctx context.Context, code catalog.DistributorCode) (string, error)
	BeginProcessing(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, stage catalog.Stage, cause error) error
}

// BatchPublisher announces the records of a finished crawl and closes its
// session.
type BatchPublisher interface {
	Publish(ctx context.Context, sessionID string, code catalog.DistributorCode, records []catalog.RawAlbumRecord) (catalog.AlbumParsedPublicationEvent, error)
}

// StrategySource builds the fetch strategies of one crawl run, lightest
// first. The returned release func is called once the crawl ends.
type StrategySource func(ctx context.Context, code catalog.DistributorCode) ([]antibot.Strategy, func(context.Context), error)

// Config tunes every crawl run.
type Config struct {
	SessionDeadline   time.Duration
	MaxPages          int
	DetailConcurrency int
	FetchTimeout      time.Duration
	BlockThreshold    int
	Throttle          ratelimit.Config
	Retry             retry.Config
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Sessions   Sessions
	Registry   *distributor.Registry
	Publisher  BatchPublisher
	Strategies StrategySource
	Agents     *useragent.Pool
	Clock      catalog.Clock
}

// Result summarizes one crawl run.
type Result struct {
	SessionID string
	Code      catalog.DistributorCode
	Pages     int
	Items     int
	Records   int
	Skipped   int
	Event     catalog.AlbumParsedPublicationEvent
}

// Runner executes crawl runs. Each run owns its throttle and fetch state.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewRunner validates deps and builds a Runner.
func NewRunner(cfg Config, deps Deps, logger *zap.Logger) (*Runner, error) {
	if deps.Sessions == nil || deps.Registry == nil || deps.Publisher == nil || deps.Strategies == nil || deps.Clock == nil {
		return nil, errors.New("crawl runner dependencies are required")
	}
	if cfg.SessionDeadline <= 0 {
		cfg.SessionDeadline = DefaultSessionDeadline
	}
	if deps.Agents == nil {
		deps.Agents = useragent.NewPool(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger.Named("crawl")}, nil
}

// Run crawls entry under a fresh session. On failure the session is marked
// Failed with the stage that broke and no event is emitted.
func (r *Runner) Run(ctx context.Context, entry distributor.Entry) (Result, error) {
	res := Result{Code: entry.Code}
	strategy, err := r.deps.Registry.Resolve(entry.Code)
	if err != nil {
		return res, fmt.Errorf("resolve strategy: %w", err)
	}

	id, err := r.deps.Sessions.Create(ctx, entry.Code)
	if err != nil {
		return res, err
	}
	res.SessionID = id
	logger := logging.Session(r.logger, id, entry.Code)
	if err := r.begin(ctx, id, logger); err != nil {
		return res, err
	}

	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, "crawl.run")
	span.SetAttributes(
		attribute.String("session.id", id),
		attribute.String("distributor", entry.Code.String()),
	)
	defer span.End()

	metrics.IncActiveCrawls()
	defer metrics.DecActiveCrawls()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.SessionDeadline)
	defer cancel()

	started := r.deps.Clock.Now()
	records, stage, err := r.crawl(ctx, id, entry, strategy, &res, logger)
	if err != nil {
		stage = session.StageFor(err, stage)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		if failErr := r.deps.Sessions.Fail(context.WithoutCancel(ctx), id, stage, err); failErr != nil {
			logger.Error("failed to mark session failed", zap.Error(failErr))
		}
		logger.Error("crawl failed",
			zap.String("stage", string(stage)),
			zap.String("error_kind", catalog.ErrorKind(err)),
			zap.Error(err))
		return res, fmt.Errorf("crawl %s: %w", entry.Code, err)
	}
	res.Records = len(records)

	evt, err := r.deps.Publisher.Publish(ctx, id, entry.Code, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(catalog.StagePublish))
		return res, fmt.Errorf("publish %s: %w", entry.Code, err)
	}
	res.Event = evt
	span.SetAttributes(attribute.Int("records", res.Records))
	logger.Info("crawl finished",
		zap.Int("pages", res.Pages),
		zap.Int("items", res.Items),
		zap.Int("records", res.Records),
		zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", r.deps.Clock.Now().Sub(started)))
	return res, nil
}

// begin moves the session to Processing, retrying transient store errors.
// Pending may only advance to Processing, so a session whose transition never
// lands stays Pending and the crawl is abandoned.
func (r *Runner) begin(ctx context.Context, id string, logger *zap.Logger) error {
	attempts, err := retry.Do(ctx, retry.NewExponential(r.cfg.Retry), func(ctx context.Context, attempt int) error {
		err := r.deps.Sessions.BeginProcessing(ctx, id)
		if err != nil {
			logger.Warn("begin processing failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("begin session after %d attempts: %w", attempts, err)
	}
	return nil
}

// crawl walks the categories in order and returns the parsed records, or the
// stage the walk failed in.
func (r *Runner) crawl(
	ctx context.Context,
	id string,
	entry distributor.Entry,
	strategy distributor.Strategy,
	res *Result,
	logger *zap.Logger,
) ([]catalog.RawAlbumRecord, catalog.Stage, error) {
	strategies, release, err := r.deps.Strategies(ctx, entry.Code)
	if err != nil {
		return nil, catalog.StageCrawl, fmt.Errorf("build fetch strategies: %w", err)
	}
	if release != nil {
		defer release(context.WithoutCancel(ctx))
	}

	label := entry.Code.String()
	loader, err := antibot.New(antibot.Config{
		Label:     label,
		SessionID: res.SessionID,
		Timeout:   r.cfg.FetchTimeout,
	}, strategies, antibot.Deps{
		Throttle: ratelimit.New(r.cfg.Throttle, label),
		Agents:   r.deps.Agents,
		Detector: antibot.NewDetector(r.cfg.BlockThreshold),
		Policy:   retry.NewExponential(r.cfg.Retry),
		Logger:   logger,
	})
	if err != nil {
		return nil, catalog.StageCrawl, err
	}
	details := parser.New(loader, strategy, r.deps.Clock, r.cfg.DetailConcurrency, logger)

	seen := map[string]struct{}{}
	var records []catalog.RawAlbumRecord
	for _, cat := range entry.Categories {
		p := paginator.New(loader, strategy, cat.URL,
			paginator.WithMaxPages(r.cfg.MaxPages),
			paginator.WithCategoryMedia(cat.Media),
			paginator.WithLogger(logger))
		for p.Next(ctx) {
			batch := p.Batch()
			fresh := make([]catalog.ListingItem, 0, len(batch.Items))
			for _, item := range batch.Items {
				if _, dup := seen[item.URL]; dup {
					continue
				}
				seen[item.URL] = struct{}{}
				fresh = append(fresh, item)
			}
			res.Items += len(fresh)

			parsed, err := details.ParseItems(ctx, id, fresh)
			res.Skipped += len(parsed.Skipped)
			if err != nil {
				return nil, catalog.StageCrawl, err
			}
			records = append(records, parsed.Records...)
		}
		res.Pages += p.Pages()
		if err := p.Err(); err != nil {
			stage := catalog.StageCrawl
			if errors.Is(err, &catalog.PaginationError{}) {
				stage = catalog.StagePaginate
			}
			return nil, stage, fmt.Errorf("category %s: %w", categoryName(cat), err)
		}
		logger.Debug("category done", zap.String("category", categoryName(cat)), zap.Int("pages", p.Pages()))
	}
	return records, "", nil
}

func categoryName(cat distributor.Category) string {
	if cat.Name != "" {
		return cat.Name
	}
	return cat.URL
}
