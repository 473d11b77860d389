// Package app builds the long-lived services of the process from
// configuration and holds them for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/api"
	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/catalogsync"
	"github.com/JakeFAU/metal-release-crawler/internal/clock/system"
	"github.com/JakeFAU/metal-release-crawler/internal/config"
	"github.com/JakeFAU/metal-release-crawler/internal/crawl"
	"github.com/JakeFAU/metal-release-crawler/internal/dispatcher"
	"github.com/JakeFAU/metal-release-crawler/internal/distributor"
	"github.com/JakeFAU/metal-release-crawler/internal/id/uuid"
	"github.com/JakeFAU/metal-release-crawler/internal/images"
	"github.com/JakeFAU/metal-release-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/metal-release-crawler/internal/publisher"
	"github.com/JakeFAU/metal-release-crawler/internal/queue"
	queuememory "github.com/JakeFAU/metal-release-crawler/internal/queue/memory"
	"github.com/JakeFAU/metal-release-crawler/internal/retry"
	"github.com/JakeFAU/metal-release-crawler/internal/session"
	"github.com/JakeFAU/metal-release-crawler/internal/useragent"
)

// App holds the shared services of one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Catalogue  distributor.Catalogue
	Blobs      catalog.BlobStore
	Sessions   *session.Manager
	Catalog    catalog.CatalogStore
	Publisher  catalog.Publisher
	Subscriber queue.Subscriber
	Runner     *crawl.Runner
	Dispatcher *dispatcher.Dispatcher
	Consumer   *catalogsync.Consumer

	checks  map[string]api.ReadinessCheck
	closers []func(context.Context)
	local   *queuememory.Queue
}

// New wires every service selected by cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, checks: map[string]api.ReadinessCheck{}}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Catalogue, err = distributor.LoadCatalogue(cfg.Crawler.Catalogue)
	if err != nil {
		return nil, err
	}
	if err = a.openBlobStore(ctx); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	sessionStore, err := a.openStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	if err = a.openChannel(ctx); err != nil {
		return nil, fmt.Errorf("open message channel: %w", err)
	}

	clock := system.New()
	ids := uuid.New()
	a.Sessions = session.NewManager(sessionStore, ids, clock, logger)

	agents, err := a.loadAgents(ctx)
	if err != nil {
		return nil, err
	}
	publishPolicy := retry.NewExponential(retry.Config{
		MaxAttempts: cfg.HTTP.MaxAttempts,
		BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	})

	events, err := publisher.New(
		publisher.Config{Topic: cfg.PubSub.ParsedTopic, ChunkSizeBytes: cfg.Storage.ChunkSizeBytes},
		a.Blobs, a.Publisher, a.Sessions, clock, publishPolicy, logger)
	if err != nil {
		return nil, err
	}
	a.Runner, err = crawl.NewRunner(crawl.Config{
		SessionDeadline:   cfg.SessionDeadline(),
		MaxPages:          cfg.Crawler.MaxPages,
		DetailConcurrency: cfg.Crawler.DetailConcurrency,
		FetchTimeout:      cfg.FetchTimeout(),
		BlockThreshold:    cfg.Crawler.BlockThresholdBytes,
		Throttle: ratelimit.Config{
			RPS:         cfg.Throttle.RPS,
			Burst:       cfg.Throttle.Burst,
			MinDelay:    time.Duration(cfg.Throttle.MinDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Throttle.MaxDelayMs) * time.Millisecond,
			MaxInFlight: cfg.Throttle.MaxInFlight,
		},
		Retry: retry.Config{
			MaxAttempts: cfg.HTTP.MaxAttempts,
			BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		},
	}, crawl.Deps{
		Sessions:   a.Sessions,
		Registry:   distributor.DefaultRegistry(),
		Publisher:  events,
		Strategies: a.strategySource(),
		Agents:     agents,
		Clock:      clock,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = dispatcher.New(a.Runner, a.Catalogue, logger)

	var uploader catalog.ImageUploader
	if cfg.Images.Enabled {
		uploader, err = images.New(images.Config{
			Prefix:   cfg.Images.Prefix,
			MaxBytes: cfg.Images.MaxBytes,
			Timeout:  time.Duration(cfg.Images.TimeoutSeconds) * time.Second,
		}, a.Blobs, nil, agents, logger)
		if err != nil {
			return nil, err
		}
	}
	a.Consumer, err = catalogsync.New(catalogsync.Config{
		ProcessedTopic: cfg.PubSub.ProcessedTopic,
		ChunkSizeBytes: cfg.Storage.ChunkSizeBytes,
	}, catalogsync.Deps{
		Blobs:     a.Blobs,
		Catalog:   a.Catalog,
		Images:    uploader,
		Publisher: a.Publisher,
		IDs:       ids,
		Clock:     clock,
		Policy:    publishPolicy,
	}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("services ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("db", cfg.DB.Backend),
		zap.String("channel", cfg.PubSub.Backend),
		zap.Int("distributors", len(a.Catalogue.Enabled())))
	return a, nil
}

// ReadinessChecks reports the probes of the opened backends.
func (a *App) ReadinessChecks() map[string]api.ReadinessCheck {
	return a.checks
}

// Close releases the services in reverse opening order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// InProcessChannel reports whether parsed events travel over the in-memory
// queue, in which case only this process can consume them.
func (a *App) InProcessChannel() bool {
	return a.local != nil
}

// CloseChannel stops accepting parsed events on the in-memory queue. A
// running Subscriber.Receive returns once the queued events are handled.
func (a *App) CloseChannel() {
	if a.local != nil {
		a.local.Close()
	}
}

func (a *App) onClose(fn func(context.Context)) {
	a.closers = append(a.closers, fn)
}

func (a *App) loadAgents(ctx context.Context) (*useragent.Pool, error) {
	file := a.Config.UserAgents.File
	if file == "" && a.Config.UserAgents.Fallback != "" {
		return useragent.NewPool([]string{a.Config.UserAgents.Fallback}), nil
	}
	pool, err := useragent.Load(ctx, file, a.Blobs)
	if err != nil {
		return nil, fmt.Errorf("load user agents: %w", err)
	}
	return pool, nil
}

var errUnknownBackend = errors.New("unknown backend")
