package app

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/metal-release-crawler/internal/antibot"
	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/crawl"
	collyfetcher "github.com/JakeFAU/metal-release-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/metal-release-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/metal-release-crawler/internal/fetcher/unblock"
	pubmemory "github.com/JakeFAU/metal-release-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/metal-release-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/metal-release-crawler/internal/queue"
	queuememory "github.com/JakeFAU/metal-release-crawler/internal/queue/memory"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/gcs"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/local"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/memory"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/minio"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/postgres"
	"github.com/JakeFAU/metal-release-crawler/internal/storage/sqlite"
)

func (a *App) openBlobStore(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "memory":
		a.Blobs = memory.NewBlobStore()
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return err
		}
		a.Blobs = store
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func(context.Context) { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return err
		}
		a.checks["blob_store"] = store.CheckBucket
		a.Blobs = store
	case "minio":
		store, err := minio.New(minio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.Minio.Region,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		a.checks["blob_store"] = store.EnsureBucket
		a.Blobs = store
	default:
		return fmt.Errorf("%w: storage %q", errUnknownBackend, cfg.Backend)
	}
	return nil
}

// openStores opens the catalog store and returns the session store.
func (a *App) openStores(ctx context.Context) (catalog.SessionStore, error) {
	cfg := a.Config.DB
	switch cfg.Backend {
	case "memory":
		a.Catalog = memory.NewCatalogStore()
		return memory.NewSessionStore(), nil
	case "postgres":
		pool, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: time.Duration(cfg.ConnLifetimeMinute) * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) { pool.Close() })
		a.checks["database"] = pool.Ping
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		catalogStore, err := postgres.NewCatalogStore(pool)
		if err != nil {
			return nil, err
		}
		a.Catalog = catalogStore
		return postgres.NewSessionStore(pool)
	case "sqlite":
		// Sessions stay in a local audit file; the catalog needs a shared
		// store, which sqlite does not provide across processes.
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) { _ = store.Close() })
		a.Catalog = memory.NewCatalogStore()
		a.Logger.Warn("catalog kept in memory with the sqlite backend", zap.String("sqlite_path", cfg.SQLitePath))
		return store, nil
	default:
		return nil, fmt.Errorf("%w: db %q", errUnknownBackend, cfg.Backend)
	}
}

func (a *App) openChannel(ctx context.Context) error {
	cfg := a.Config.PubSub
	switch cfg.Backend {
	case "memory":
		pub := pubmemory.New()
		q := queuememory.NewQueue(64,
			queuememory.WithMaxDeliveries(cfg.MemoryMaxDeliveries),
			queuememory.WithLogger(a.Logger))
		pub.Bind(cfg.ParsedTopic, q)
		a.onClose(func(context.Context) { q.Close() })
		a.Publisher = pub
		a.Subscriber = q
		a.local = q
	case "gcp":
		var opts []option.ClientOption
		if cfg.EmulatorHost != "" {
			conn, err := grpc.NewClient(cfg.EmulatorHost, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial pubsub emulator: %w", err)
			}
			a.onClose(func(context.Context) { _ = conn.Close() })
			opts = append(opts, option.WithGRPCConn(conn))
		}
		client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		a.onClose(func(context.Context) { _ = client.Close() })
		if cfg.CreateMissingChannels {
			for _, topic := range []string{cfg.ParsedTopic, cfg.ProcessedTopic} {
				if err := pubsubpublisher.EnsureTopic(ctx, client, cfg.ProjectID, topic); err != nil {
					return err
				}
			}
			if err := queue.EnsureSubscription(ctx, client,
				subscriptionName(cfg.ProjectID, cfg.ParsedSubscription),
				pubsubpublisher.TopicName(cfg.ProjectID, cfg.ParsedTopic)); err != nil {
				return err
			}
		}
		pub := pubsubpublisher.New(client, cfg.ProjectID, a.Logger)
		a.onClose(func(context.Context) { pub.Close() })
		sub, err := queue.NewPubSubSubscriber(client, cfg.ParsedSubscription,
			queue.PubSubConfig{MaxOutstanding: cfg.MaxOutstanding}, a.Logger)
		if err != nil {
			return err
		}
		a.Publisher = pub
		a.Subscriber = sub
	default:
		return fmt.Errorf("%w: pubsub %q", errUnknownBackend, cfg.Backend)
	}
	return nil
}

func subscriptionName(projectID, sub string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, sub)
}

// strategySource orders colly, then the headless browser, then FlareSolverr.
// The browser is shared by all crawls; each crawl gets its own FlareSolverr
// session.
func (a *App) strategySource() crawl.StrategySource {
	cfg := a.Config
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgents.Fallback,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
	})

	var browser *headless.Fetcher
	if cfg.Headless.Enabled {
		b, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.UserAgents.Fallback,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ChallengeWait:     time.Duration(cfg.Headless.ChallengeWaitSec) * time.Second,
		})
		if err != nil {
			a.Logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			browser = b
			a.onClose(func(context.Context) { b.Close() })
		}
	}

	return func(_ context.Context, code catalog.DistributorCode) ([]antibot.Strategy, func(context.Context), error) {
		strategies := []antibot.Strategy{{Name: collyfetcher.StrategyName, Fetcher: plain}}
		if browser != nil {
			strategies = append(strategies, antibot.Strategy{Name: headless.StrategyName, Fetcher: browser})
		}
		if !cfg.Unblock.Enabled {
			return strategies, nil, nil
		}
		proxy, err := unblock.New(unblock.Config{
			BaseURL:    cfg.Unblock.BaseURL,
			MaxTimeout: time.Duration(cfg.Unblock.MaxTimeoutSeconds) * time.Second,
		}, a.Logger.With(zap.String("distributor", code.String())))
		if err != nil {
			return nil, nil, err
		}
		strategies = append(strategies, antibot.Strategy{Name: unblock.StrategyName, Fetcher: proxy})
		return strategies, proxy.Close, nil
	}
}
