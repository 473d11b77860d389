// Package cmd defines the metalcrawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/app"
	"github.com/JakeFAU/metal-release-crawler/internal/config"
	"github.com/JakeFAU/metal-release-crawler/internal/logging"
	"github.com/JakeFAU/metal-release-crawler/internal/telemetry"
)

// version is stamped at build time with -ldflags.
var version = "dev"

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it.
var newApp = app.New

// newRootCmd returns the root command and a func that releases whatever its
// pre-run opened. The release runs even when a subcommand fails.
func newRootCmd() (*cobra.Command, func()) {
	var shutdown func()
	cmd := &cobra.Command{
		Use:   "metalcrawler",
		Short: "Crawls metal distributor shops into a release catalog.",
		Long: `metalcrawler walks the listing pages of independent metal distributors,
parses every album it finds and syncs the results into the catalog.`,
		SilenceUsage: true,

		// Services are built once config is known and before any RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			tp, err := telemetry.InitTracerProvider(cmd.Context(), "metalcrawler", version)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = tp.Shutdown(context.WithoutCancel(cmd.Context()))
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			shutdown = func() {
				ctx := context.WithoutCancel(cmd.Context())
				appInstance.Close(ctx)
				if err := tp.Shutdown(ctx); err != nil {
					logger.Warn("tracer shutdown failed", zap.Error(err))
				}
				_ = logger.Sync()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and CRAWLER_* env vars apply without one)")

	cmd.AddCommand(newCrawlCmd(), newSyncCmd(), newServeCmd())
	return cmd, func() {
		if shutdown != nil {
			shutdown()
		}
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, release := newRootCmd()
	err := root.ExecuteContext(ctx)
	release()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
